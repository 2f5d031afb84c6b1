// ABOUTME: Thread-safe TTL cache for rendered values, size-limited with FIFO eviction
// ABOUTME: Used by the gateway to avoid re-rendering unchanged thread transcripts

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores a cached value with its timestamp and eviction-list element.
type entry struct {
	value     string
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited string cache. A
// doubly-linked list maintains insertion order for O(1) eviction, and a
// background goroutine sweeps expired entries.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.timestamp) >= c.ttl {
		return "", false
	}
	return e.value, true
}

// Put stores a value under key. If the cache is at capacity, the oldest
// entry is evicted to make room; storing an existing key refreshes it.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if e, exists := c.entries[key]; exists {
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{
		value:     value,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup periodically removes expired entries until Close.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.timestamp) > c.ttl {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
