package ai

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// cacheKey identifies a file version by path, size and line count. Edits
// that keep both size and line count hit the cache for up to the TTL.
func cacheKey(path string, size int64, lines int) string {
	return fmt.Sprintf("%s-%d-%d", path, size, lines)
}

// analysisCache is a size-bounded LRU whose entries also expire.
type analysisCache struct {
	mu      sync.Mutex
	entries *lru.Cache
	expires map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newAnalysisCache(maxEntries int, ttl time.Duration) *analysisCache {
	c := &analysisCache{
		entries: lru.New(maxEntries),
		expires: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
	c.entries.OnEvicted = func(key lru.Key, _ interface{}) {
		delete(c.expires, key.(string))
	}
	return c
}

func (c *analysisCache) Get(key string) (*Analysis, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(c.expires[key]) {
		c.entries.Remove(key)
		return nil, false
	}
	return v.(*Analysis), true
}

func (c *analysisCache) Put(key string, a *Analysis) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, a)
	c.expires[key] = c.now().Add(c.ttl)
}

// Sweep drops expired entries and returns how many were removed.
func (c *analysisCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var expired []string
	for key, at := range c.expires {
		if now.After(at) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.entries.Remove(key)
	}
	return len(expired)
}

func (c *analysisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
