package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
)

// ComparisonEntry is one statistic's standing for the compared state.
type ComparisonEntry struct {
	StatisticID   int64           `json:"statistic_id"`
	StatisticName string          `json:"statistic_name"`
	CategoryName  string          `json:"category_name"`
	Value         decimal.Decimal `json:"value"`
	Rank          int             `json:"rank"`
	StateCount    int             `json:"state_count"`
	Percentile    decimal.Decimal `json:"percentile"`
}

// Comparison is a state's percentile standing across every statistic with
// data in one year.
type Comparison struct {
	StateID   int64             `json:"state_id"`
	StateName string            `json:"state_name"`
	Year      int               `json:"year"`
	Entries   []ComparisonEntry `json:"entries"`
}

// StateComparison ranks the state against its peers for every statistic with
// published data in the year. Percentile is (N - rank + 1) / N * 100 with
// rank 1 holding the highest value, rounded to two decimals. Returns
// (nil, nil) when the state id is unknown.
func (e *Engine) StateComparison(ctx context.Context, stateID int64, year int) (*Comparison, error) {
	cacheKey := fmt.Sprintf("compare/%d/%d", stateID, year)
	if v, ok := e.cache.get(cacheKey); ok {
		return v.(*Comparison), nil
	}

	cmp := &Comparison{StateID: stateID, Year: year}
	err := e.pool.QueryRow(ctx,
		`SELECT name FROM states WHERE id = $1`, stateID,
	).Scan(&cmp.StateName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "aggregate: load state %d", stateID)
	}

	rows, err := e.pool.Query(ctx,
		`SELECT statistic_id, statistic_name, category_name, value, rnk, n
		 FROM (
		     SELECT d.state_id, d.statistic_id, st.name AS statistic_name,
		            c.name AS category_name, d.value,
		            RANK() OVER (PARTITION BY d.statistic_id ORDER BY d.value DESC, d.state_id ASC) AS rnk,
		            COUNT(*) OVER (PARTITION BY d.statistic_id) AS n
		     FROM data_points d
		     JOIN states s ON s.id = d.state_id AND s.active AND s.name <> $3
		     JOIN statistics st ON st.id = d.statistic_id
		     JOIN categories c ON c.id = st.category_id
		     WHERE d.year = $2
		 ) ranked
		 WHERE state_id = $1
		 ORDER BY category_name, statistic_name`,
		stateID, year, catalog.NationName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: compare state")
	}
	defer rows.Close()

	hundred := decimal.NewFromInt(100)
	for rows.Next() {
		var (
			entry ComparisonEntry
			n     pgtype.Numeric
		)
		if err := rows.Scan(&entry.StatisticID, &entry.StatisticName, &entry.CategoryName,
			&n, &entry.Rank, &entry.StateCount); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan comparison row")
		}
		value, err := db.DecimalFromNumeric(n)
		if err != nil {
			return nil, err
		}
		if value != nil {
			entry.Value = *value
		}
		entry.Percentile = decimal.NewFromInt(int64(entry.StateCount - entry.Rank + 1)).
			Mul(hundred).
			DivRound(decimal.NewFromInt(int64(entry.StateCount)), 2)
		cmp.Entries = append(cmp.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.cache.put(cacheKey, cmp)
	return cmp, nil
}
