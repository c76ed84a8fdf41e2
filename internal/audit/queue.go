// Package audit records registry mutations. Services publish events to a
// queue (in-process or a Redis list) and a Worker persists them to the
// metadata store in batches, so a slow database never delays a request.
package audit

import (
	"context"
	"errors"
	"time"

	"model_registry/internal/models"
)

var (
	// ErrQueueClosed is returned when operating on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned when the in-process buffer is exhausted.
	ErrQueueFull = errors.New("queue is full")
)

// Queue buffers audit events between publishers and the Worker.
type Queue interface {
	// Enqueue adds an event without waiting for room.
	Enqueue(ctx context.Context, event *models.AuditEvent) error

	// DequeueWithTimeout returns up to maxItems events. It waits at most
	// timeout for the first one and returns an empty slice if none came.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.AuditEvent, error)

	// Length returns the number of queued events.
	Length(ctx context.Context) (int, error)

	Close() error
}

// Config tunes the queue and its worker.
type Config struct {
	// BatchSize is the maximum number of events written at once.
	BatchSize int

	// BatchTimeout is how long the worker waits for a first event.
	BatchTimeout time.Duration

	// MaxRetries bounds per-event retries after a failed batch.
	MaxRetries int

	// RetryBackoff is the initial retry delay; it doubles per attempt.
	RetryBackoff time.Duration

	// QueueName names the Redis list.
	QueueName string
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		QueueName:    "audit",
	}
}
