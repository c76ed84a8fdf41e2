package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"model_registry/internal/models"
	"model_registry/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func event(action models.AuditAction, model string) *models.AuditEvent {
	return &models.AuditEvent{Action: action, ModelName: model, Detail: models.JSONB{}}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	q := NewMemoryQueue(cfg)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(ctx, event(models.ActionModelCreated, "m:base")))
	}
	assert.ErrorIs(t, q.Enqueue(ctx, event(models.ActionModelCreated, "m:base")), ErrQueueFull)

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	items, err := q.DequeueWithTimeout(ctx, 4, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, items, 4)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(ctx, event(models.ActionModelCreated, "m:base")), ErrQueueClosed)

	// Buffered events stay readable after Close.
	items, err = q.DequeueWithTimeout(ctx, 100, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, items, 6)

	_, err = q.DequeueWithTimeout(ctx, 100, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueueTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig())
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	q := NewRedisQueue(setupTestRedis(t), DefaultConfig())

	version := 3
	first := event(models.ActionAliasSet, "llama:base")
	first.Version = &version
	first.Detail = models.JSONB{"alias": "prod"}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, event(models.ActionAliasDeleted, "llama:base")))
	require.NoError(t, q.Enqueue(ctx, event(models.ActionModelDeleted, "llama:base")))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	items, err := q.DequeueWithTimeout(ctx, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.ActionAliasSet, items[0].Action)
	require.NotNil(t, items[0].Version)
	assert.Equal(t, 3, *items[0].Version)
	assert.Equal(t, "prod", items[0].Detail["alias"])
	assert.Equal(t, models.ActionAliasDeleted, items[1].Action)

	n, err = q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorkerPersistsEvents(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.BatchTimeout = 10 * time.Millisecond
	q := NewMemoryQueue(cfg)
	w := NewWorker(q, store.Audit(), zaptest.NewLogger(t), cfg)

	w.Start(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Publish(context.Background(), event(models.ActionVersionDeclared, "llama:base")))
	}
	require.NoError(t, w.Stop())

	events, err := store.Audit().ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 5)
	for _, e := range events {
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", e.ID.String())
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestWorkerDrainsOnStop(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	q := NewRedisQueue(setupTestRedis(t), cfg)
	w := NewWorker(q, store.Audit(), zaptest.NewLogger(t), cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Publish(context.Background(), event(models.ActionModelCreated, "m:base")))
	}

	// Never started: Stop is a no-op and the events stay queued.
	require.NoError(t, w.Stop())
	n, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	w.Start(context.Background())
	require.NoError(t, w.Stop())

	n, err = q.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	events, err := store.Audit().ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	batches  [][]*models.AuditEvent
}

func (s *flakyStore) InsertBatch(_ context.Context, events []*models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *flakyStore) ListRecent(context.Context, int) ([]*models.AuditEvent, error) {
	return nil, nil
}

func TestWorkerRetriesSingleEvents(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		stored   int
	}{
		{"batch succeeds", 0, 1},
		{"single insert after failed batch", 1, 2},
		{"retried with backoff", 3, 2},
		{"dropped after max retries", 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &flakyStore{failures: tt.failures}
			cfg := DefaultConfig()
			cfg.MaxRetries = 2
			cfg.RetryBackoff = time.Millisecond
			q := NewMemoryQueue(cfg)
			w := NewWorker(q, store, zaptest.NewLogger(t), cfg)

			require.NoError(t, w.Publish(context.Background(), event(models.ActionModelCreated, "a:base")))
			require.NoError(t, w.Publish(context.Background(), event(models.ActionModelCreated, "b:base")))
			require.NoError(t, w.processBatch(context.Background(), 10*time.Millisecond))

			var stored int
			for _, b := range store.batches {
				stored += len(b)
			}
			if tt.stored == 0 {
				assert.Zero(t, stored)
			} else {
				assert.Equal(t, 2, stored)
				assert.Len(t, store.batches, tt.stored)
			}
		})
	}
}

// cancelOnDequeue hands out its events once and cancels the caller's
// context as it does, like Stop landing mid-batch.
type cancelOnDequeue struct {
	Queue
	events []*models.AuditEvent
	cancel context.CancelFunc
}

func (q *cancelOnDequeue) DequeueWithTimeout(context.Context, int, time.Duration) ([]*models.AuditEvent, error) {
	events := q.events
	q.events = nil
	q.cancel()
	return events, nil
}

// ctxStrictStore refuses writes under a finished context, as a database
// driver does.
type ctxStrictStore struct {
	flakyStore
}

func (s *ctxStrictStore) InsertBatch(ctx context.Context, events []*models.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.flakyStore.InsertBatch(ctx, events)
}

func TestWorkerWritesDequeuedBatchAfterCancel(t *testing.T) {
	tests := []struct {
		name     string
		failures int
	}{
		{"batch insert", 0},
		{"single insert fallback", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			q := &cancelOnDequeue{
				events: []*models.AuditEvent{
					event(models.ActionModelCreated, "a:base"),
					event(models.ActionVersionDeclared, "a:base"),
				},
				cancel: cancel,
			}
			store := &ctxStrictStore{flakyStore{failures: tt.failures}}
			cfg := DefaultConfig()
			cfg.RetryBackoff = time.Millisecond
			w := NewWorker(q, store, zaptest.NewLogger(t), cfg)

			require.NoError(t, w.processBatch(ctx, 10*time.Millisecond))
			require.Error(t, ctx.Err())

			var stored int
			for _, b := range store.batches {
				stored += len(b)
			}
			assert.Equal(t, 2, stored)
		})
	}
}
