package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
	"github.com/civicmetrics/statepipe/internal/importer"
)

// dataPool creates the pgx pool for all pipeline commands.
func dataPool(ctx context.Context) (*pgxpool.Pool, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("no database_url configured (set store.database_url or STATEPIPE_STORE_DATABASE_URL)")
	}
	return db.Connect(ctx, cfg.Store.DatabaseURL)
}

// buildCatalog constructs the reference catalog per configuration. The
// returned closer is non-nil only for the sqlite driver.
func buildCatalog(pool db.Pool) (catalog.Catalog, func() error, error) {
	var (
		inner  catalog.Catalog
		closer func() error
	)
	switch cfg.Catalog.Driver {
	case "", "postgres":
		inner = catalog.NewPostgresStore(pool)
	case "sqlite":
		s, err := catalog.NewSQLiteStore(cfg.Catalog.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		inner = s
		closer = s.Close
	default:
		return nil, nil, eris.Errorf("unknown catalog driver %q", cfg.Catalog.Driver)
	}

	if cfg.Catalog.CacheDisabled {
		return inner, closer, nil
	}
	ttl := time.Duration(cfg.Catalog.CacheTTLSecs) * time.Second
	return catalog.NewCached(inner, cfg.Catalog.CacheEntries, ttl), closer, nil
}

// buildPipeline wires the upload path from configuration.
func buildPipeline(pool db.Pool) (*importer.Pipeline, func() error, error) {
	cat, closer, err := buildCatalog(pool)
	if err != nil {
		return nil, nil, err
	}
	store := importer.NewPostgresStore(pool)
	loader := importer.NewLoader(store, cat, cfg.Import.BatchSize)
	return importer.NewPipeline(store, importer.NewRegistry(pool), loader), closer, nil
}

// actorOrDefault resolves the acting user for audit fields.
func actorOrDefault(actor string) string {
	if actor != "" {
		return actor
	}
	if cfg.Import.DefaultActor != "" {
		return cfg.Import.DefaultActor
	}
	return "system"
}

// maxImportValue parses the configured plausibility threshold.
func maxImportValue() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(cfg.Import.MaxValue)
	if err != nil {
		return decimal.Decimal{}, eris.Wrapf(err, "invalid import.max_value %q", cfg.Import.MaxValue)
	}
	return d, nil
}
