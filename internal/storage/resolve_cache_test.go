package storage

import (
	"context"
	"testing"
	"time"

	"model_registry/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestRedisResolveCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisResolveCache(client, time.Minute)
	ctx := context.Background()

	res := &models.Resolution{
		Name:          "bert:base",
		GroupName:     "bert",
		Variant:       "base",
		Version:       2,
		StoragePrefix: "s3://models/bert:base/versions/2",
		DisplayName:   "bert:base@prod",
	}

	_, gen, ok, err := cache.Get(ctx, "bert:base", "alias:prod")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, gen)

	require.NoError(t, cache.Set(ctx, "bert:base", "alias:prod", gen, res))
	require.NoError(t, cache.Set(ctx, "bert:base", "version:2", gen, res))

	got, _, ok, err := cache.Get(ctx, "bert:base", "alias:prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res, got)

	t.Run("invalidate drops every selector", func(t *testing.T) {
		require.NoError(t, cache.Invalidate(ctx, "bert:base"))
		_, gen, ok, err := cache.Get(ctx, "bert:base", "version:2")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, int64(1), gen)
	})

	t.Run("entries expire", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "gpt:small", "latest", 0, res))
		mr.FastForward(2 * time.Minute)
		_, _, ok, err := cache.Get(ctx, "gpt:small", "latest")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisResolveCacheIgnoresWritesFromBeforeInvalidate(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisResolveCache(client, time.Minute)
	ctx := context.Background()

	// A resolver read the generation and the old alias target...
	_, gen, ok, err := cache.Get(ctx, "bert:base", "alias:prod")
	require.NoError(t, err)
	require.False(t, ok)

	// ...the alias is repointed...
	require.NoError(t, cache.Invalidate(ctx, "bert:base"))

	// ...and only then the old answer is written back.
	require.NoError(t, cache.Set(ctx, "bert:base", "alias:prod", gen, &models.Resolution{Version: 1}))

	_, _, ok, err = cache.Get(ctx, "bert:base", "alias:prod")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisResolveCacheEntriesExpireIndependently(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisResolveCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "bert:base", "alias:prod", 0, &models.Resolution{Version: 1}))

	// Other selectors keep being cached on a busy model.
	for i := 0; i < 4; i++ {
		mr.FastForward(20 * time.Second)
		require.NoError(t, cache.Set(ctx, "bert:base", "version:3", 0, &models.Resolution{Version: 3}))
	}

	_, _, ok, err := cache.Get(ctx, "bert:base", "alias:prod")
	require.NoError(t, err)
	assert.False(t, ok)

	got, _, ok, err := cache.Get(ctx, "bert:base", "version:3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.Version)
}
