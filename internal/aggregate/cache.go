package aggregate

import (
	"sync"
	"time"
)

// resultCache is a small TTL cache for computed query results. Unlike the
// catalog cache it does not track recency; entries are few and short-lived,
// so expiry plus a hard capacity purge is enough.
type resultCache struct {
	mu         sync.Mutex
	entries    map[string]resultEntry
	maxEntries int
	ttl        time.Duration
}

type resultEntry struct {
	value     any
	createdAt time.Time
}

func newResultCache(maxEntries int, ttl time.Duration) *resultCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &resultCache{
		entries:    make(map[string]resultEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *resultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *resultCache) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if time.Since(e.createdAt) > c.ttl {
				delete(c.entries, k)
			}
		}
		// Still full after dropping expired entries: start over rather than
		// track recency for a cache this small.
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[string]resultEntry)
		}
	}
	c.entries[key] = resultEntry{value: value, createdAt: time.Now()}
}
