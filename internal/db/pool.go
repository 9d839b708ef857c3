// Package db provides the shared connection pool abstraction and bulk
// insert/upsert helpers used by the import pipeline stores.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of *pgxpool.Pool the pipeline uses. pgxmock's
// PgxPoolIface satisfies it, so stores are testable without a database.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const (
	pingAttempts = 3
	pingBackoff  = 500 * time.Millisecond
)

// Connect opens a pgx connection pool against the given database URL and
// verifies connectivity with a ping. The ping is retried with doubling
// backoff so a database still coming up does not fail the CLI immediately.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse database url")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create pool")
	}

	delay := pingBackoff
	for attempt := 1; ; attempt++ {
		err = pool.Ping(ctx)
		if err == nil {
			return pool, nil
		}
		if attempt >= pingAttempts || ctx.Err() != nil {
			break
		}
		zap.L().Warn("database ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			pool.Close()
			return nil, eris.Wrap(ctx.Err(), "db: connect")
		case <-timer.C:
		}
		delay *= 2
	}

	pool.Close()
	return nil, eris.Wrap(err, "db: ping")
}
