package aggregate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
)

// Order selects the end of the ranking to return.
type Order string

const (
	OrderTop    Order = "top"
	OrderBottom Order = "bottom"
)

// Performer is one ranked state for a statistic/year.
type Performer struct {
	StateID   int64           `json:"state_id"`
	StateName string          `json:"state_name"`
	Value     decimal.Decimal `json:"value"`
	Rank      int             `json:"rank"`
}

// TopBottomPerformers ranks states by published value for one statistic and
// year. Ties break by state id ascending so results are stable across runs.
func (e *Engine) TopBottomPerformers(ctx context.Context, statisticID int64, year int, limit int, order Order) ([]Performer, error) {
	if order != OrderTop && order != OrderBottom {
		return nil, eris.Errorf("aggregate: unknown ranking order %q", order)
	}
	if limit <= 0 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("rank/%d/%d/%d/%s", statisticID, year, limit, order)
	if v, ok := e.cache.get(cacheKey); ok {
		return v.([]Performer), nil
	}

	direction := "DESC"
	if order == OrderBottom {
		direction = "ASC"
	}
	query := fmt.Sprintf(
		`SELECT d.state_id, s.name, d.value
		 FROM data_points d
		 JOIN states s ON s.id = d.state_id
		 WHERE d.statistic_id = $1 AND d.year = $2 AND s.active AND s.name <> $3
		 ORDER BY d.value %s, d.state_id ASC
		 LIMIT %d`, direction, limit)

	rows, err := e.pool.Query(ctx, query, statisticID, year, catalog.NationName)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: rank states")
	}
	defer rows.Close()

	var performers []Performer
	for rows.Next() {
		var (
			p Performer
			n pgtype.Numeric
		)
		if err := rows.Scan(&p.StateID, &p.StateName, &n); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan ranked state")
		}
		value, err := db.DecimalFromNumeric(n)
		if err != nil {
			return nil, err
		}
		if value != nil {
			p.Value = *value
		}
		p.Rank = len(performers) + 1
		performers = append(performers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.cache.put(cacheKey, performers)
	return performers, nil
}
