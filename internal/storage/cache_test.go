package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// "a" was just used, so "b" is evicted.
	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Set("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache[string](10, time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("k2", "v2")

	now = now.Add(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	c := NewLRUCache[int](5, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}
