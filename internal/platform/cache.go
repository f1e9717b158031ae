package platform

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value   any
	expires time.Time
}

// Cache is a minimal in-process TTL cache backing ctx.Platform.Cache().
// A distributed backend (internal/jobs uses redis/go-redis/v9 for
// cross-process counters) is out of scope here: this cache is
// process-local and reset on restart.
type Cache struct {
	mu    sync.Mutex
	items map[string]cacheEntry
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{items: make(map[string]cacheEntry)}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key. A zero ttl means no expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.items[key] = cacheEntry{value: value, expires: expires}
}

// Delete removes key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
