// Package ttlcache provides a small bounded in-process cache with per-entry
// TTL expiry and oldest-entry eviction when capacity is reached.
//
// It backs the read-mostly caches in the query pipeline (schema snapshots,
// query→table selections) where redundant refreshes under races are
// acceptable and staleness is tolerable. All methods are safe for
// concurrent use.
package ttlcache

import (
	"sync"
	"time"
)

// Cache is a fixed-capacity map from K to V where every entry expires ttl
// after it was stored. When the cache is full, Put evicts the entry with the
// oldest store time.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]entry[V]
	capacity int
	ttl      time.Duration

	// now is swappable for tests.
	now func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// New creates a Cache holding at most capacity entries, each valid for ttl.
// A capacity <= 0 defaults to 100 entries; a ttl <= 0 defaults to 5 minutes.
func New[K comparable, V any](capacity int, ttl time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache[K, V]{
		entries:  make(map[K]entry[V], capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the value stored under key and true if the entry exists and has
// not expired. Expired entries are removed on access.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry and resetting its
// TTL. If the cache is at capacity the oldest entry is evicted first.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Evict removes the entry stored under key, if any.
func (c *Cache[K, V]) Evict(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries currently stored, including entries that
// have expired but not yet been removed on access.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.storedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.storedAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
