package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/globalsound/internal/config"
	"github.com/therealutkarshpriyadarshi/globalsound/internal/logging"
	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

const (
	LocalizeQueueName = "localize_jobs"
	ExchangeName      = "globalsound"

	// MaxPriority is the highest message priority the queue honours
	MaxPriority = 10
)

// ErrPermanent marks a handler failure that must not be retried
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the consumer dead-letters the job immediately
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Handler processes one job. retryCount is the number of earlier attempts.
type Handler func(ctx context.Context, job *models.Job, retryCount int) error

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger

	maxRetries int

	// amqp channels are not safe for concurrent publishing
	publishMu sync.Mutex
}

// New creates a new queue client and declares the job, retry and dead
// letter topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, channel: channel, logger: logger, maxRetries: MaxRetries}
	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	if err := q.SetupDeadLetterQueue(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) declare() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		LocalizeQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": MaxPriority},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = q.channel.QueueBind(
		LocalizeQueueName,
		LocalizeQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// SetMaxRetries overrides how many retries a job gets before it is
// dead-lettered
func (q *Queue) SetMaxRetries(n int) {
	if n >= 0 {
		q.maxRetries = n
	}
}

// PublishJob publishes a localization job to the queue
func (q *Queue) PublishJob(ctx context.Context, job *models.Job) error {
	return q.PublishJobWithRetry(ctx, job, 0)
}

// ConsumeJobs starts concurrency goroutines handling jobs until ctx is
// done. A failed job is retried with backoff; permanent failures and jobs
// past the retry limit go to the dead letter queue.
func (q *Queue) ConsumeJobs(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		concurrency, // prefetch count
		0,           // prefetch size
		false,       // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		LocalizeQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.handle(ctx, msg, handler)
				}
			}
		}()
	}

	return nil
}

func (q *Queue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	var job models.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.WithError(err).Error("Dropping malformed job message")
		msg.Nack(false, false)
		return
	}

	retries := RetryCount(msg.Headers)
	err := handler(ctx, &job, retries)
	if err == nil {
		msg.Ack(false)
		return
	}

	logger := q.logger.WithJobID(job.ID).WithError(err)
	var forwardErr error
	if errors.Is(err, ErrPermanent) {
		forwardErr = q.PublishToDeadLetterQueue(ctx, &job, err.Error())
	} else {
		forwardErr = q.PublishToRetryQueue(ctx, &job, retries)
	}
	if forwardErr != nil {
		// leave it to the broker
		logger.Error("Failed to reroute job, requeueing")
		msg.Nack(false, true)
		return
	}
	logger.Warn("Job failed")
	msg.Ack(false)
}

func (q *Queue) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	return q.channel.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(LocalizeQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// Priority maps a job to a message priority. Quick jobs jump the queue.
func Priority(job *models.Job) uint8 {
	if job.Options.QuickProcess {
		return MaxPriority / 2
	}
	return 1
}

// RetryCount reads the attempt counter from message headers
func RetryCount(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// encode marshals a job as a persistent message
func encode(job *models.Job, headers amqp.Table) (amqp.Publishing, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal job: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		Priority:     Priority(job),
		Headers:      headers,
	}, nil
}
