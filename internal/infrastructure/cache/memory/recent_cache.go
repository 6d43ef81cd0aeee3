package memory

import (
	"sync"
	"time"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// DefaultTTL for the process-local cache.
const DefaultTTL = 2 * time.Hour

type cacheEntry struct {
	value   *entity.MediaQueryResult
	expires time.Time
}

// RecentCache is a process-local TTL cache of query results.
// Expired entries are dropped lazily on access and on Set.
type RecentCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewRecentCache(ttl time.Duration) *RecentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RecentCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *RecentCache) Get(key valueobject.CacheKey) (*entity.MediaQueryResult, bool) {
	k := key.String()

	c.mu.RLock()
	entry, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().After(entry.expires) {
		c.mu.Lock()
		if current, ok := c.entries[k]; ok && current.expires.Equal(entry.expires) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

func (c *RecentCache) Set(key valueobject.CacheKey, value *entity.MediaQueryResult) {
	if value == nil {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key.String()] = cacheEntry{value: value, expires: now.Add(c.ttl)}
}

// Len returns the number of entries, including not yet evicted expired ones.
func (c *RecentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
