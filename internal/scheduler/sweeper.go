package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/cache"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/queue"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

const lockResource = "scheduler:sweep"

// Repository finds and requeues jobs that stopped moving
type Repository interface {
	ListStaleJobs(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.Job, error)
	RequeueJob(ctx context.Context, id, status, reason string) (bool, error)
}

// JobPublisher puts a job back on the work queue
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.Job) error
}

// Locker guards a sweep so only one process runs it at a time
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (*cache.Lock, error)
	ReleaseLock(ctx context.Context, lock *cache.Lock) error
}

// Options configures a Sweeper
type Options struct {
	// PendingAfter is how long a job may sit unpublished
	PendingAfter time.Duration
	// ProcessingAfter is how long a running job may go without a progress update
	ProcessingAfter time.Duration
	BatchSize       int
}

// Sweeper republishes jobs that were never published or whose worker died
type Sweeper struct {
	repo      Repository
	publisher JobPublisher
	locker    Locker
	opts      Options
	logger    *logging.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper. locker may be nil for a single process.
func NewSweeper(repo Repository, publisher JobPublisher, locker Locker, opts Options, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.PendingAfter <= 0 {
		opts.PendingAfter = 5 * time.Minute
	}
	if opts.ProcessingAfter <= 0 {
		opts.ProcessingAfter = 2 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		locker:    locker,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Warn("Stale job sweep failed")
			}
		}
	}
}

// Sweep requeues stale jobs once, highest priority first, and returns how
// many were republished
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.locker != nil {
		lock, err := s.locker.AcquireLock(ctx, lockResource, s.opts.PendingAfter)
		if err != nil {
			return 0, err
		}
		if lock == nil {
			return 0, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				s.logger.WithError(err).Warn("Failed to release sweep lock")
			}
		}()
	}

	now := s.now()
	jobs, err := s.repo.ListStaleJobs(ctx, now.Add(-s.opts.PendingAfter), now.Add(-s.opts.ProcessingAfter), s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	pq := &PriorityQueue{}
	heap.Init(pq)
	for _, job := range jobs {
		heap.Push(pq, &QueueItem{Job: job, Priority: int(queue.Priority(job)), Timestamp: job.CreatedAt})
	}

	requeued := 0
	for pq.Len() > 0 {
		job := heap.Pop(pq).(*QueueItem).Job
		logger := s.logger.WithJobID(job.ID)

		reason := "requeued: never published"
		if job.Status == models.JobStatusProcessing {
			reason = fmt.Sprintf("requeued: worker %s stopped reporting", job.WorkerID)
		}

		ok, err := s.repo.RequeueJob(ctx, job.ID, job.Status, reason)
		if err != nil {
			return requeued, err
		}
		if !ok {
			continue
		}

		job.Status = models.JobStatusQueued
		job.WorkerID = ""
		if err := s.publisher.PublishJob(ctx, job); err != nil {
			return requeued, fmt.Errorf("failed to republish job %s: %w", job.ID, err)
		}
		requeued++
		logger.LogJobEvent(job.ID, "requeued", job.Status, map[string]interface{}{"reason": reason})
	}

	return requeued, nil
}

// PriorityQueue orders jobs by priority, then age
type PriorityQueue []*QueueItem

// QueueItem is one job in the priority queue
type QueueItem struct {
	Job       *models.Job
	Priority  int
	Timestamp time.Time
	Index     int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[0 : n-1]
	return item
}
