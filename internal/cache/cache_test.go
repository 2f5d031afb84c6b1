// ABOUTME: Tests for the TTL render cache
// ABOUTME: Covers hits, expiry, refresh, and size-bounded eviction

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_PutAndGet(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("k", "v")

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_ExpiredEntryMisses(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Put("k", "v")
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_PutRefreshesExistingKey(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Put("k", "old")
	c.Put("k", "new")

	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := range 4 {
		c.Put(fmt.Sprintf("k%d", i), "v")
	}

	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestCache_RunCleanupRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Put("k", "v")
	time.Sleep(20 * time.Millisecond)
	c.runCleanup()

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.entries)
	assert.Zero(t, c.order.Len())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
