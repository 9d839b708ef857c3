package catalog

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cached wraps a Catalog with a concurrent-safe LRU cache with TTL
// expiration. Catalog data changes rarely, so a short TTL keeps staging
// lookups from hammering the database on large files.
type Cached struct {
	inner Catalog

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	value     any
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCached wraps inner with a cache of the given capacity and TTL.
func NewCached(inner Catalog, maxEntries int, ttl time.Duration) *Cached {
	return &Cached{
		inner:      inner,
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// StateByName implements Catalog.
func (c *Cached) StateByName(ctx context.Context, name string) (*State, error) {
	key := "state/" + strings.ToLower(strings.TrimSpace(name))
	if v, ok := c.get(key); ok {
		return v.(*State), nil
	}
	s, err := c.inner.StateByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(key, s)
	return s, nil
}

// CategoryByName implements Catalog.
func (c *Cached) CategoryByName(ctx context.Context, name string) (*Category, error) {
	key := "category/" + strings.ToLower(strings.TrimSpace(name))
	if v, ok := c.get(key); ok {
		return v.(*Category), nil
	}
	cat, err := c.inner.CategoryByName(ctx, name)
	if err != nil {
		return nil, err
	}
	c.put(key, cat)
	return cat, nil
}

// StatisticByName implements Catalog.
func (c *Cached) StatisticByName(ctx context.Context, categoryID int64, name string) (*Statistic, error) {
	key := "statistic/" + strconv.FormatInt(categoryID, 10) + "/" + strings.ToLower(strings.TrimSpace(name))
	if v, ok := c.get(key); ok {
		return v.(*Statistic), nil
	}
	st, err := c.inner.StatisticByName(ctx, categoryID, name)
	if err != nil {
		return nil, err
	}
	c.put(key, st)
	return st, nil
}

// ActiveStateCount implements Catalog. Counts are not cached; the call is
// rare and cheap.
func (c *Cached) ActiveStateCount(ctx context.Context) (int, error) {
	return c.inner.ActiveStateCount(ctx)
}

// States implements Catalog.
func (c *Cached) States(ctx context.Context) ([]State, error) {
	return c.inner.States(ctx)
}

// Stats returns cache hit/miss statistics.
func (c *Cached) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	stats := CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
	}
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *Cached) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil, false
	}

	// Move to back (most recently used).
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.value, true
}

func (c *Cached) put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{value: value, createdAt: time.Now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	// Evict oldest entries at capacity.
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{value: value, createdAt: time.Now()}
	c.order = append(c.order, key)
}

func (c *Cached) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
