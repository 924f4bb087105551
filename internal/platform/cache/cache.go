package cache

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic testing.
type Clock func() time.Time

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a keyed value cache with per-entry expiry. It is safe for
// concurrent use; writes are last-writer-wins.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     Clock
}

// New creates a TTLCache using the wall clock.
func New() *TTLCache {
	return NewWithClock(time.Now)
}

// NewWithClock creates a TTLCache with an injected clock.
func NewWithClock(now Clock) *TTLCache {
	return &TTLCache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get returns the cached value for key, or false if absent or expired.
// Expired entries are removed lazily on access.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key from the cache.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of entries, including any not yet swept.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
