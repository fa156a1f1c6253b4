// Package cache provides a small TTL cache for remote read responses.
// Entries expire lazily on access; there is no background sweep and no size
// bound, which is acceptable for the bounded key space it serves (page and
// count descriptors).
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// Cache is a mutex-guarded key/value store with per-entry expiry.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
	now   func() time.Time
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]entry[V]),
		now:   time.Now,
	}
}

// NewWithClock creates a cache with an injected clock for tests.
func NewWithClock[K comparable, V any](now func() time.Time) *Cache[K, V] {
	c := New[K, V]()
	c.now = now
	return c
}

// Set stores value under key with the given time-to-live.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{
		value:    value,
		expireAt: c.now().Add(ttl),
	}
}

// Get returns the live value for key. Expired entries are deleted on access
// and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(item.expireAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return item.value, true
}

// Has reports whether a live value exists for key, deleting it if expired.
func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Remove deletes key unconditionally.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
}

// Len returns the number of stored entries, live or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
