package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/metrics"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Health levels reported by Monitor
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// Thresholds beyond which the system is reported degraded
type Thresholds struct {
	QueueDepth  int
	DLQDepth    int
	FailureRate float64
}

// DefaultThresholds are used when a Monitor is created with zero thresholds
var DefaultThresholds = Thresholds{QueueDepth: 1000, DLQDepth: 100, FailureRate: 0.1}

// Snapshot holds the most recently collected system figures
type Snapshot struct {
	QueueDepth    int              `json:"queue_depth"`
	DLQDepth      int              `json:"dlq_depth"`
	JobsByStatus  map[string]int64 `json:"jobs_by_status"`
	ActiveJobs    int64            `json:"active_jobs"`
	TotalJobs     int64            `json:"total_jobs"`
	FinishedJobs  int64            `json:"finished_jobs"`
	FailedJobs    int64            `json:"failed_jobs"`
	Health        string           `json:"health"`
	Alerts        []string         `json:"alerts,omitempty"`
	CollectedAt   time.Time        `json:"collected_at"`
	CollectionErr string           `json:"collection_error,omitempty"`
}

// JobCounter reports job counts per status
type JobCounter interface {
	CountJobsByStatus(ctx context.Context) (map[string]int64, error)
}

// QueueProvider reports queue depths
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// Monitor periodically samples the queue and job table
type Monitor struct {
	jobs       JobCounter
	queue      QueueProvider
	thresholds Thresholds
	logger     *logging.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMonitor creates a new monitoring service
func NewMonitor(jobs JobCounter, queue QueueProvider, thresholds Thresholds, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Monitor{
		jobs:       jobs,
		queue:      queue,
		thresholds: thresholds,
		logger:     logger,
		snapshot:   Snapshot{Health: HealthUnknown},
	}
}

// Start collects immediately and then every interval until ctx is done
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		m.Collect(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Collect(ctx)
			}
		}
	}()
}

// Collect samples every source once and publishes the result as gauges
func (m *Monitor) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{CollectedAt: time.Now().UTC(), JobsByStatus: map[string]int64{}}

	err := m.collect(ctx, &snap)
	if err != nil {
		snap.CollectionErr = err.Error()
		m.logger.WithError(err).Warn("Failed to collect monitoring figures")
	}
	snap.Health, snap.Alerts = evaluate(snap, m.thresholds, err)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	return snap
}

func (m *Monitor) collect(ctx context.Context, snap *Snapshot) error {
	depth, err := m.queue.GetQueueDepth()
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}
	snap.QueueDepth = depth
	metrics.SetQueueDepth("jobs", depth)

	dlq, err := m.queue.GetDLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}
	snap.DLQDepth = dlq
	metrics.SetQueueDepth("dlq", dlq)

	counts, err := m.jobs.CountJobsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get job stats: %w", err)
	}
	for status, n := range counts {
		snap.JobsByStatus[status] = n
		snap.TotalJobs += n
		switch status {
		case models.JobStatusPending, models.JobStatusQueued, models.JobStatusProcessing:
			snap.ActiveJobs += n
		default:
			snap.FinishedJobs += n
		}
	}
	snap.FailedJobs = counts[models.JobStatusFailed]
	metrics.SetJobsInProgress(int(counts[models.JobStatusProcessing]))

	return nil
}

func evaluate(snap Snapshot, t Thresholds, collectErr error) (string, []string) {
	if collectErr != nil {
		return HealthUnknown, []string{collectErr.Error()}
	}

	health := HealthHealthy
	var alerts []string

	if snap.DLQDepth > t.DLQDepth {
		health = HealthCritical
		alerts = append(alerts, fmt.Sprintf("High DLQ depth: %d messages", snap.DLQDepth))
	}

	if snap.QueueDepth > t.QueueDepth {
		if health == HealthHealthy {
			health = HealthWarning
		}
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d jobs pending", snap.QueueDepth))
	}

	if snap.FinishedJobs > 0 {
		failureRate := float64(snap.FailedJobs) / float64(snap.FinishedJobs)
		if failureRate > t.FailureRate {
			if health == HealthHealthy {
				health = HealthWarning
			}
			alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", failureRate*100))
		}
	}

	return health, alerts
}

// Snapshot returns a copy of the last collected figures
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.JobsByStatus = make(map[string]int64, len(m.snapshot.JobsByStatus))
	for k, v := range m.snapshot.JobsByStatus {
		snap.JobsByStatus[k] = v
	}
	snap.Alerts = append([]string(nil), m.snapshot.Alerts...)
	return snap
}
