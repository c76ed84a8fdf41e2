package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"model_registry/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisResolveCache caches each resolution under its own key with its
// own TTL:
//
//	resolve:{model}:gen               generation counter
//	resolve:{model}:{gen}:{selector}  JSON resolution
//
// Invalidate bumps the generation, which orphans every entry of the
// previous one; orphans age out through their TTL.
type RedisResolveCache struct {
	client *redis.Client
	ttl    time.Duration
}

// DefaultResolveTTL is used when no positive TTL is configured.
const DefaultResolveTTL = 5 * time.Minute

// NewRedisResolveCache creates a cache whose entries expire ttl after
// they are written.
func NewRedisResolveCache(client *redis.Client, ttl time.Duration) *RedisResolveCache {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	return &RedisResolveCache{client: client, ttl: ttl}
}

func generationKey(modelName string) string {
	return fmt.Sprintf("resolve:%s:gen", modelName)
}

func entryKey(modelName string, generation int64, selector string) string {
	return fmt.Sprintf("resolve:%s:%d:%s", modelName, generation, selector)
}

// genTTL outlives every entry written under a generation, so a counter
// that expires can only restart once all its entries are gone.
func (c *RedisResolveCache) genTTL() time.Duration {
	return 2 * c.ttl
}

func (c *RedisResolveCache) generation(ctx context.Context, modelName string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(modelName)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read resolve cache generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached resolution for selector, if any, together with
// the model's current generation.
func (c *RedisResolveCache) Get(ctx context.Context, modelName, selector string) (*models.Resolution, int64, bool, error) {
	gen, err := c.generation(ctx, modelName)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.client.Get(ctx, entryKey(modelName, gen, selector)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read resolve cache: %w", err)
	}

	var res models.Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, 0, false, fmt.Errorf("failed to decode cached resolution: %w", err)
	}
	return &res, gen, true, nil
}

// Set stores a resolution under generation. A resolution stored under a
// stale generation is never returned by Get.
func (c *RedisResolveCache) Set(ctx context.Context, modelName, selector string, generation int64, res *models.Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode resolution: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entryKey(modelName, generation, selector), data, c.ttl)
	pipe.Expire(ctx, generationKey(modelName), c.genTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write resolve cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached resolution of a model.
func (c *RedisResolveCache) Invalidate(ctx context.Context, modelName string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, generationKey(modelName))
	pipe.Expire(ctx, generationKey(modelName), c.genTTL())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate resolve cache: %w", err)
	}
	return nil
}
