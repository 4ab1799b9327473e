// Package cache provides a bounded in-memory key/value store with TTL
// expiry and LRU eviction. Three independent instances back the analysis
// pipeline: raw snapshots, formatted prompt text, and full results.
package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrConfiguration is returned by New for invalid construction parameters.
var ErrConfiguration = errors.New("invalid cache configuration")

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type entry[V any] struct {
	value        V
	createdAt    time.Time
	ttl          time.Duration
	sizeBytes    int64
	hitCount     int64
	lastAccessed time.Time
}

// Cache is a mutex-guarded TTL/LRU cache. The zero value is not usable;
// construct with New.
type Cache[V any] struct {
	mu           sync.Mutex
	entries      map[string]*entry[V]
	defaultTTL   time.Duration
	maxEntries   int
	maxSizeBytes int64
	sizeBytes    int64
	hits         int64
	misses       int64
	evictions    int64
	now          func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock injects a clock, used by tests to simulate TTL expiry.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache bounded by maxEntries and maxSizeBytes, with
// defaultTTL applied when Put is called with ttl <= 0.
func New[V any](defaultTTL time.Duration, maxEntries int, maxSizeBytes int64, opts ...Option[V]) (*Cache[V], error) {
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("%w: default TTL must be greater than 0, got %s", ErrConfiguration, defaultTTL)
	}
	if maxEntries <= 0 {
		return nil, fmt.Errorf("%w: max entries must be greater than 0, got %d", ErrConfiguration, maxEntries)
	}
	if maxSizeBytes <= 0 {
		return nil, fmt.Errorf("%w: max size must be greater than 0, got %d", ErrConfiguration, maxSizeBytes)
	}

	c := &Cache[V]{
		entries:      make(map[string]*entry[V]),
		defaultTTL:   defaultTTL,
		maxEntries:   maxEntries,
		maxSizeBytes: maxSizeBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value for key. The second return is false on a miss;
// an entry past its TTL counts as a miss and is removed. A hit refreshes
// the entry's last-access time.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	now := c.now()
	if !now.Before(e.createdAt.Add(e.ttl)) {
		c.removeLocked(key)
		c.misses++
		return zero, false
	}

	e.lastAccessed = now
	e.hitCount++
	c.hits++
	return e.value, true
}

// Put inserts or replaces the entry for key. A ttl <= 0 uses the cache's
// default. Entries are evicted least-recently-accessed first until both
// the entry and byte bounds hold.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration, sizeBytes int64) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if sizeBytes < 0 {
		sizeBytes = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}

	// An entry larger than the whole cache would evict everything and
	// still not fit; refuse it rather than thrash.
	if sizeBytes > c.maxSizeBytes {
		return
	}

	for len(c.entries) >= c.maxEntries || c.sizeBytes+sizeBytes > c.maxSizeBytes {
		if !c.evictLRULocked() {
			break
		}
		c.evictions++
	}

	now := c.now()
	c.entries[key] = &entry[V]{
		value:        value,
		createdAt:    now,
		ttl:          ttl,
		sizeBytes:    sizeBytes,
		lastAccessed: now,
	}
	c.sizeBytes += sizeBytes
}

// Invalidate removes the entry for key if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear removes all entries and returns how many were removed.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry[V])
	c.sizeBytes = 0
	return n
}

// Sweep removes all expired entries and returns how many were removed.
// The lifecycle manager calls this periodically so expired entries do not
// linger until their next Get.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.createdAt.Add(e.ttl)) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		SizeBytes: c.sizeBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// removeLocked deletes key and adjusts byte accounting. Caller holds mu.
func (c *Cache[V]) removeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		c.sizeBytes -= e.sizeBytes
		delete(c.entries, key)
	}
}

// evictLRULocked removes the least-recently-accessed entry. Returns false
// when the cache is empty. Caller holds mu.
func (c *Cache[V]) evictLRULocked() bool {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, e := range c.entries {
		if first || e.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccessed
			first = false
		}
	}
	if first {
		return false
	}
	c.removeLocked(oldestKey)
	return true
}
