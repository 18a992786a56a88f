package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

// Event names, one per terminal job status
const (
	EventJobCompleted = "job.completed"
	EventJobPartial   = "job.partial"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// Header names set on every delivery
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

// Event is the JSON body posted to a job's callback URL
type Event struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"job_id"`
	VideoID   string          `json:"video_id"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Summary   *models.Summary `json:"summary,omitempty"`
}

// EventForStatus maps a terminal job status to its event name
func EventForStatus(status string) string {
	switch status {
	case models.JobStatusCompleted:
		return EventJobCompleted
	case models.JobStatusPartial:
		return EventJobPartial
	case models.JobStatusCancelled:
		return EventJobCancelled
	default:
		return EventJobFailed
	}
}

// Notifier delivers job events to callback URLs
type Notifier struct {
	client      *http.Client
	secret      string
	maxAttempts int
	retryDelay  time.Duration
	logger      *logging.Logger
}

// NewNotifier creates a notifier from webhook settings
func NewNotifier(cfg config.WebhookConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Notifier{
		client:      &http.Client{Timeout: timeout},
		secret:      cfg.Secret,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
		logger:      logger,
	}
}

// NotifyJobFinished posts the outcome of job to its callback URL, if any.
// Delivery is retried with linear backoff; the last error is returned.
func (n *Notifier) NotifyJobFinished(ctx context.Context, job *models.Job, status string, summary *models.Summary, errMsg string) error {
	url := job.Options.CallbackURL
	if url == "" {
		return nil
	}

	payload, err := json.Marshal(Event{
		Event:     EventForStatus(status),
		Timestamp: time.Now().UTC(),
		JobID:     job.ID,
		VideoID:   job.VideoID,
		Status:    status,
		Error:     errMsg,
		Summary:   summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	deliveryID := uuid.New().String()
	logger := n.logger.WithJobID(job.ID).WithField("delivery_id", deliveryID)

	for attempt := 1; ; attempt++ {
		err = n.deliver(ctx, url, EventForStatus(status), deliveryID, payload)
		if err == nil {
			logger.WithField("attempt", attempt).Info("Webhook delivered")
			return nil
		}
		if attempt >= n.maxAttempts {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Webhook delivery failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * n.retryDelay):
		}
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.maxAttempts, err)
}

func (n *Notifier) deliver(ctx context.Context, url, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GlobalSound-Webhook/1.0")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches payload under secret
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
