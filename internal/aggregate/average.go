package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
)

// NationalAverage is the persisted mean of a statistic across states for one
// year.
type NationalAverage struct {
	StatisticID int64           `json:"statistic_id"`
	Year        int             `json:"year"`
	Value       decimal.Decimal `json:"value"`
	StateCount  int             `json:"state_count"`
	ComputedAt  time.Time       `json:"computed_at"`
}

// NationalAverage returns the cached average for (statistic, year), computing
// and persisting it when absent. Promotion deletes stale rows for touched
// pairs, so a recompute here always sees current facts. Returns (nil, nil)
// when no facts exist for the key.
func (e *Engine) NationalAverage(ctx context.Context, statisticID int64, year int) (*NationalAverage, error) {
	avg := &NationalAverage{StatisticID: statisticID, Year: year}

	var cached pgtype.Numeric
	err := e.pool.QueryRow(ctx,
		`SELECT value, state_count, computed_at FROM national_averages
		 WHERE statistic_id = $1 AND year = $2`,
		statisticID, year,
	).Scan(&cached, &avg.StateCount, &avg.ComputedAt)
	if err == nil {
		value, convErr := db.DecimalFromNumeric(cached)
		if convErr != nil {
			return nil, convErr
		}
		avg.Value = *value
		return avg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "aggregate: load national average")
	}

	values, err := e.factValues(ctx, statisticID, year)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	mean := decimal.Sum(values[0], values[1:]...).
		DivRound(decimal.NewFromInt(int64(len(values))), 4)

	avg.Value = mean
	avg.StateCount = len(values)
	avg.ComputedAt = time.Now()

	encoded, err := db.NumericFromDecimal(&mean)
	if err != nil {
		return nil, err
	}
	_, err = e.pool.Exec(ctx,
		`INSERT INTO national_averages (statistic_id, year, value, state_count, computed_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (statistic_id, year)
		 DO UPDATE SET value = EXCLUDED.value, state_count = EXCLUDED.state_count, computed_at = now()`,
		statisticID, year, encoded, avg.StateCount,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: persist national average")
	}

	e.log.Debug("computed national average",
		zap.Int64("statistic_id", statisticID),
		zap.Int("year", year),
		zap.String("value", mean.String()),
		zap.Int("state_count", avg.StateCount))
	return avg, nil
}

// factValues loads the published values for one (statistic, year) across
// active states. The Nation pseudo-state never contributes to means.
func (e *Engine) factValues(ctx context.Context, statisticID int64, year int) ([]decimal.Decimal, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT d.value
		 FROM data_points d
		 JOIN states s ON s.id = d.state_id
		 WHERE d.statistic_id = $1 AND d.year = $2 AND s.active AND s.name <> $3`,
		statisticID, year, catalog.NationName,
	)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: load fact values")
	}
	defer rows.Close()

	var values []decimal.Decimal
	for rows.Next() {
		var n pgtype.Numeric
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "aggregate: scan fact value")
		}
		d, err := db.DecimalFromNumeric(n)
		if err != nil {
			return nil, err
		}
		if d != nil {
			values = append(values, *d)
		}
	}
	return values, rows.Err()
}
