package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"model_registry/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps events in a Redis list, so several registry replicas
// can share one worker pool and queued events survive restarts.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on an existing client. Closing the queue
// does not close the client.
func NewRedisQueue(client *redis.Client, cfg Config) *RedisQueue {
	name := cfg.QueueName
	if name == "" {
		name = DefaultConfig().QueueName
	}
	return &RedisQueue{client: client, key: fmt.Sprintf("queue:%s", name)}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

// DequeueWithTimeout blocks on BLPOP for the first event. Redis counts
// the timeout in whole seconds.
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.AuditEvent, error) {
	items := []*models.AuditEvent{}

	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] the value
	raw := []string{result[1]}
	for len(raw) < maxItems {
		value, err := q.client.LPop(ctx, q.key).Result()
		if err != nil {
			break
		}
		raw = append(raw, value)
	}

	for _, data := range raw {
		var event models.AuditEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// A malformed entry can never be stored; skip it.
			continue
		}
		items = append(items, &event)
	}
	return items, nil
}

func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Close() error { return nil }
