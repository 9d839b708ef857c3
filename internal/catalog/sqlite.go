package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Catalog over a local SQLite snapshot of the
// reference tables. Useful for offline development and tests; the schema
// matches the Postgres catalog tables.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS states (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	abbreviation TEXT NOT NULL UNIQUE,
	active       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS categories (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS statistics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL REFERENCES categories(id),
	name        TEXT NOT NULL,
	UNIQUE(category_id, name)
);
`

// NewSQLiteStore opens (and initializes if needed) a SQLite catalog at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "catalog: exec %s", pragma)
		}
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, eris.Wrap(err, "catalog: init sqlite schema")
	}
	return &SQLiteStore{db: sqlDB}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StateByName matches a state by full name or abbreviation, case-insensitively.
func (s *SQLiteStore) StateByName(ctx context.Context, name string) (*State, error) {
	var st State
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, abbreviation FROM states
		 WHERE LOWER(name) = LOWER(TRIM(?)) OR LOWER(abbreviation) = LOWER(TRIM(?))
		 LIMIT 1`,
		name, name,
	).Scan(&st.ID, &st.Name, &st.Abbreviation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: state by name %q", name)
	}
	return &st, nil
}

// CategoryByName matches a category by name, case-insensitively.
func (s *SQLiteStore) CategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM categories WHERE LOWER(name) = LOWER(TRIM(?)) LIMIT 1`,
		name,
	).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: category by name %q", name)
	}
	return &c, nil
}

// StatisticByName matches a statistic by name within a category,
// case-insensitively.
func (s *SQLiteStore) StatisticByName(ctx context.Context, categoryID int64, name string) (*Statistic, error) {
	var st Statistic
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category_id, name FROM statistics
		 WHERE category_id = ? AND LOWER(name) = LOWER(TRIM(?))
		 LIMIT 1`,
		categoryID, name,
	).Scan(&st.ID, &st.CategoryID, &st.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "catalog: statistic %q in category %d", name, categoryID)
	}
	return &st, nil
}

// ActiveStateCount counts states excluding the Nation pseudo-state.
func (s *SQLiteStore) ActiveStateCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM states WHERE active AND name <> ?`, NationName,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: active state count")
	}
	return n, nil
}

// States lists all states ordered by name.
func (s *SQLiteStore) States(ctx context.Context) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, abbreviation FROM states ORDER BY name`)
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
