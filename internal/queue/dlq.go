package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/globalsound/pkg/models"
)

const (
	DeadLetterQueueName    = "localize_jobs_dlq"
	DeadLetterExchangeName = "globalsound_dlq"
	RetryQueueName         = "localize_jobs_retry"
	MaxRetries             = 3
)

// SetupDeadLetterQueue sets up the dead letter queue infrastructure
func (q *Queue) SetupDeadLetterQueue() error {
	// Declare dead letter exchange
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	// Declare dead letter queue
	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	// Bind DLQ to exchange
	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retry messages flow back into the job queue
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": LocalizeQueueName,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	q.logger.Info("Dead letter queue infrastructure set up successfully")
	return nil
}

// PublishJobWithRetry publishes a job carrying its attempt counter
func (q *Queue) PublishJobWithRetry(ctx context.Context, job *models.Job, retryCount int) error {
	msg, err := encode(job, amqp.Table{"x-retry-count": retryCount})
	if err != nil {
		return err
	}

	if err := q.publish(ctx, ExchangeName, LocalizeQueueName, msg); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	return nil
}

// PublishToRetryQueue parks a job in the retry queue until its backoff
// expires, or dead-letters it once the retry limit is reached
func (q *Queue) PublishToRetryQueue(ctx context.Context, job *models.Job, retryCount int) error {
	if retryCount >= q.maxRetries {
		return q.PublishToDeadLetterQueue(ctx, job, "max retries exceeded")
	}

	msg, err := encode(job, amqp.Table{"x-retry-count": retryCount + 1})
	if err != nil {
		return err
	}

	delay := calculateBackoffDelay(retryCount)
	msg.Expiration = fmt.Sprintf("%d", delay.Milliseconds())

	if err := q.publish(ctx, "", RetryQueueName, msg); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.WithJobID(job.ID).Infof("Job queued for retry #%d in %v", retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue publishes a failed job to the dead letter queue
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, job *models.Job, reason string) error {
	msg, err := encode(job, amqp.Table{
		"x-failure-reason": reason,
		"x-failed-at":      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	if err := q.publish(ctx, DeadLetterExchangeName, DeadLetterQueueName, msg); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.WithJobID(job.ID).WithField("reason", reason).Warn("Job moved to dead letter queue")
	return nil
}

// ConsumeDLQ consumes messages from the dead letter queue for manual processing
func (q *Queue) ConsumeDLQ(ctx context.Context, handler func(*models.Job, string) error) error {
	msgs, err := q.channel.Consume(
		DeadLetterQueueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register DLQ consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var job models.Job
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					msg.Nack(false, false)
					continue
				}

				reason := ""
				if val, ok := msg.Headers["x-failure-reason"].(string); ok {
					reason = val
				}

				if err := handler(&job, reason); err != nil {
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}

// calculateBackoffDelay calculates exponential backoff delay
func calculateBackoffDelay(retryCount int) time.Duration {
	// 30s, 1m, 2m, 4m ...
	if retryCount > 10 {
		retryCount = 10
	}
	baseDelay := 30 * time.Second
	delay := baseDelay * (1 << retryCount)

	// Cap at 30 minutes
	if delay > 30*time.Minute {
		delay = 30 * time.Minute
	}

	return delay
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	info, err := q.channel.QueueInspect(DeadLetterQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect DLQ: %w", err)
	}

	return info.Messages, nil
}
