// Package aggregate computes read-side statistics over published facts:
// national averages, state rankings, percentile comparisons and completeness
// coverage. Averages are persisted in national_averages and recomputed on
// demand after promotions invalidate them; other results are held in a short
// TTL memory cache and are eventually consistent with recent promotions.
package aggregate

import (
	"time"

	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
)

// Engine answers aggregate queries. Construct with NewEngine and share one
// instance; all methods are safe for concurrent use.
type Engine struct {
	pool  db.Pool
	cat   catalog.Catalog
	cache *resultCache
	log   *zap.Logger
}

// NewEngine creates an Engine. cacheEntries and cacheTTL bound the in-memory
// result cache for comparison and ranking queries.
func NewEngine(pool db.Pool, cat catalog.Catalog, cacheEntries int, cacheTTL time.Duration) *Engine {
	return &Engine{
		pool:  pool,
		cat:   cat,
		cache: newResultCache(cacheEntries, cacheTTL),
		log:   zap.L().With(zap.String("component", "aggregate.engine")),
	}
}
