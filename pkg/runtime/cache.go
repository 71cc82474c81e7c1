package runtime

import (
	"strings"
	"sync"
	"time"

	"github.com/hyac-dev/hyac/pkg/metrics"
)

// MakeKey builds a cache key from the app id, function id and optional
// variant parts. Variants share the app::function prefix so invalidation
// purges all of them at once.
func MakeKey(appID, functionID string, parts ...string) string {
	key := appID + "::" + functionID
	if len(parts) > 0 {
		key += "::" + strings.Join(parts, "::")
	}
	return key
}

type cacheEntry struct {
	artifact *Artifact
	expires  time.Time
}

// Cache holds compiled artifacts with TTL expiry and bounded size. Eviction
// is insertion-order FIFO: compiled code is cheap to rebuild and the bound
// exists to cap memory, not to chase hit rates.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]cacheEntry
	order   []string
}

// NewCache creates a cache with the given bounds
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached artifact, expiring it lazily
func (c *Cache) Get(key string) (*Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found {
		metrics.CodeCacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.remove(key)
		metrics.CodeCacheMisses.Inc()
		return nil, false
	}
	metrics.CodeCacheHits.Inc()
	return e.artifact, true
}

// Set stores an artifact, evicting the oldest entry when full
func (c *Cache) Set(key string, artifact *Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			c.remove(c.order[0])
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{artifact: artifact, expires: time.Now().Add(c.ttl)}
}

// Invalidate purges the function's entry and every variant sharing its
// prefix.
func (c *Cache) Invalidate(appID, functionID string) {
	prefix := appID + "::" + functionID
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key == prefix || strings.HasPrefix(key, prefix+"::") {
			c.remove(key)
		}
	}
}

// ClearApp purges every entry of one app
func (c *Cache) ClearApp(appID string) {
	prefix := appID + "::"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(key)
		}
	}
}

// Len reports the number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes one key; caller holds the lock
func (c *Cache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
