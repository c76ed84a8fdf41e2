package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"model_registry/internal/models"
	"model_registry/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// drainTimeout bounds the final flush in Stop.
const drainTimeout = 10 * time.Second

// insertTimeout bounds the writes of one dequeued batch, retries included.
const insertTimeout = 30 * time.Second

// Worker moves events from a Queue into the AuditStore in batches. A
// failed batch falls back to per-event inserts with exponential
// backoff; events that still fail are logged and dropped.
type Worker struct {
	queue Queue
	store storage.AuditStore
	log   *zap.Logger
	cfg   Config
	now   func() time.Time

	cancel      context.CancelFunc
	stoppedChan chan struct{}
}

// NewWorker creates a worker. Call Start to begin processing.
func NewWorker(q Queue, store storage.AuditStore, log *zap.Logger, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Worker{
		queue:       q,
		store:       store,
		log:         log.Named("audit-worker"),
		cfg:         cfg,
		now:         time.Now,
		stoppedChan: make(chan struct{}),
	}
}

// Publish stamps and enqueues an event.
func (w *Worker) Publish(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = w.now().UTC()
	}
	return w.queue.Enqueue(ctx, event)
}

// Start runs the worker loop until Stop is called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop ends the loop and flushes the events still queued.
func (w *Worker) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.stoppedChan

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return w.drain(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("audit worker stopping")
			return
		default:
		}

		if err := w.processBatch(ctx, w.cfg.BatchTimeout); err != nil && ctx.Err() == nil {
			w.log.Error("failed to dequeue audit events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for {
		n, err := w.queue.Length(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if n == 0 {
			return nil
		}
		if err := w.processBatch(ctx, time.Second); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("audit queue not drained: %d events left: %w", n, ctx.Err())
		}
	}
}

// processBatch writes one batch. Only dequeue errors are returned. Once
// events have left the queue they are written even if ctx is cancelled
// meanwhile; insertTimeout bounds that write instead.
func (w *Worker) processBatch(ctx context.Context, timeout time.Duration) error {
	events, err := w.queue.DequeueWithTimeout(ctx, w.cfg.BatchSize, timeout)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	w.log.Debug("processing audit batch", zap.Int("count", len(events)))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
	defer cancel()

	err = w.store.InsertBatch(ctx, events)
	if err == nil {
		return nil
	}
	w.log.Warn("batch insert failed, falling back to single inserts", zap.Int("count", len(events)), zap.Error(err))

	for _, event := range events {
		if err := w.processItem(ctx, event); err != nil {
			w.log.Error("dropping audit event",
				zap.String("id", event.ID.String()),
				zap.String("action", string(event.Action)),
				zap.String("model", event.ModelName),
				zap.Error(err))
		}
	}
	return nil
}

func (w *Worker) processItem(ctx context.Context, event *models.AuditEvent) error {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := w.store.InsertBatch(ctx, []*models.AuditEvent{event}); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
