package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/civicmetrics/statepipe/internal/db"
)

// PostgresStore implements Catalog over the primary database.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// StateByName matches a state by full name or abbreviation, case-insensitively.
func (s *PostgresStore) StateByName(ctx context.Context, name string) (*State, error) {
	var st State
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, abbreviation FROM states
		 WHERE LOWER(name) = LOWER(TRIM($1)) OR LOWER(abbreviation) = LOWER(TRIM($1))
		 LIMIT 1`,
		name,
	).Scan(&st.ID, &st.Name, &st.Abbreviation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: state by name %q", name)
	}
	return &st, nil
}

// CategoryByName matches a category by name, case-insensitively.
func (s *PostgresStore) CategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM categories WHERE LOWER(name) = LOWER(TRIM($1)) LIMIT 1`,
		name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: category by name %q", name)
	}
	return &c, nil
}

// StatisticByName matches a statistic by name within a category,
// case-insensitively.
func (s *PostgresStore) StatisticByName(ctx context.Context, categoryID int64, name string) (*Statistic, error) {
	var st Statistic
	err := s.pool.QueryRow(ctx,
		`SELECT id, category_id, name FROM statistics
		 WHERE category_id = $1 AND LOWER(name) = LOWER(TRIM($2))
		 LIMIT 1`,
		categoryID, name,
	).Scan(&st.ID, &st.CategoryID, &st.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: statistic %q in category %d", name, categoryID)
	}
	return &st, nil
}

// ActiveStateCount counts states excluding the Nation pseudo-state.
func (s *PostgresStore) ActiveStateCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM states WHERE active AND name <> $1`, NationName,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: active state count")
	}
	return n, nil
}

// States lists all states ordered by name.
func (s *PostgresStore) States(ctx context.Context) ([]State, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, abbreviation FROM states ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list states")
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st.ID, &st.Name, &st.Abbreviation); err != nil {
			return nil, eris.Wrap(err, "catalog: scan state row")
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
