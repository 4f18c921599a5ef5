package orchestrator

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value   V
	savedAt time.Time
}

// Cache is a small keyed cache with optional TTL. Entries are populated
// lazily by callers and replaced only by reconciliation events; a zero
// TTL disables expiry entirely.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[K]cacheEntry[V]
}

// NewCache creates a cache. ttl <= 0 means entries never expire.
func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]cacheEntry[V]),
	}
}

// Get returns the cached value, dropping it first if it has expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(e.savedAt) > c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores or replaces a value.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, savedAt: c.now()}
	c.mu.Unlock()
}

// Expire removes a key.
func (c *Cache[K, V]) Expire(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of held entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
