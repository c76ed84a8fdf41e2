package audit

import (
	"context"
	"sync"
	"time"

	"model_registry/internal/models"
)

// MemoryQueue is a channel-backed queue. Events are lost on restart.
type MemoryQueue struct {
	items  chan *models.AuditEvent
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue that buffers ten batches.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	size := cfg.BatchSize * 10
	if size <= 0 {
		size = DefaultConfig().BatchSize * 10
	}
	return &MemoryQueue{
		items: make(chan *models.AuditEvent, size),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event *models.AuditEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.items <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// DequeueWithTimeout keeps returning buffered events after Close so the
// worker can drain them.
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.AuditEvent, error) {
	items := []*models.AuditEvent{}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-q.items:
		items = append(items, event)
	case <-timer.C:
		return items, nil
	case <-q.done:
		select {
		case event := <-q.items:
			items = append(items, event)
		default:
			return items, ErrQueueClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(items) < maxItems {
		select {
		case event := <-q.items:
			items = append(items, event)
		default:
			return items, nil
		}
	}
	return items, nil
}

func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	return len(q.items), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
