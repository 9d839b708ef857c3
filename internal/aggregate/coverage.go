package aggregate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/civicmetrics/statepipe/internal/catalog"
)

// CoverageFilters narrows a completeness report. Nil fields mean no filter.
type CoverageFilters struct {
	CategoryID *int64
	Year       *int
}

// CoverageCell is one statistic/year cell of the completeness report.
type CoverageCell struct {
	CategoryName     string          `json:"category_name"`
	StatisticID      int64           `json:"statistic_id"`
	StatisticName    string          `json:"statistic_name"`
	Year             int             `json:"year"`
	ProductionStates int             `json:"production_states"`
	StagedStates     int             `json:"staged_states"`
	OverlapStates    int             `json:"overlap_states"`
	CoveragePct      decimal.Decimal `json:"coverage_pct"`
}

// CoverageReport cross-tabulates published versus staged-but-unpromoted
// coverage per statistic and year.
type CoverageReport struct {
	ActiveStates int            `json:"active_states"`
	Cells        []CoverageCell `json:"cells"`
}

type coverageKey struct {
	statisticID int64
	year        int
}

// CompletenessReport counts, per statistic and year, the states covered by
// production facts and by staged rows awaiting promotion, and flags overlap
// where both exist for the same state-year. Coverage percentage is published
// states over total active states; the Nation pseudo-state is excluded from
// the denominator. The three count queries run concurrently.
func (e *Engine) CompletenessReport(ctx context.Context, filters CoverageFilters) (*CoverageReport, error) {
	var (
		mu       sync.Mutex
		cells    = make(map[coverageKey]*CoverageCell)
		overlaps = make(map[coverageKey]int)
		total    int
	)

	cell := func(key coverageKey, statName, catName string) *CoverageCell {
		c, ok := cells[key]
		if !ok {
			c = &CoverageCell{
				CategoryName:  catName,
				StatisticID:   key.statisticID,
				StatisticName: statName,
				Year:          key.year,
			}
			cells[key] = c
		}
		return c
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.coverageCounts(gctx,
			`SELECT st.id, st.name, c.name, d.year, COUNT(DISTINCT d.state_id)
			 FROM data_points d
			 JOIN states s ON s.id = d.state_id AND s.active AND s.name <> $1
			 JOIN statistics st ON st.id = d.statistic_id
			 JOIN categories c ON c.id = st.category_id
			 WHERE ($2::bigint IS NULL OR c.id = $2)
			   AND ($3::int IS NULL OR d.year = $3)
			 GROUP BY st.id, st.name, c.name, d.year`,
			filters,
			func(key coverageKey, statName, catName string, n int) {
				mu.Lock()
				cell(key, statName, catName).ProductionStates = n
				mu.Unlock()
			})
	})

	g.Go(func() error {
		return e.coverageCounts(gctx,
			`SELECT st.id, st.name, c.name, r.year, COUNT(DISTINCT r.state_id)
			 FROM csv_import_rows r
			 JOIN states s ON s.id = r.state_id AND s.active AND s.name <> $1
			 JOIN statistics st ON st.id = r.statistic_id
			 JOIN categories c ON c.id = st.category_id
			 WHERE r.status IN ('valid', 'warning') AND NOT r.is_processed
			   AND ($2::bigint IS NULL OR c.id = $2)
			   AND ($3::int IS NULL OR r.year = $3)
			 GROUP BY st.id, st.name, c.name, r.year`,
			filters,
			func(key coverageKey, statName, catName string, n int) {
				mu.Lock()
				cell(key, statName, catName).StagedStates = n
				mu.Unlock()
			})
	})

	g.Go(func() error {
		rows, err := e.pool.Query(gctx,
			`SELECT r.statistic_id, r.year, COUNT(DISTINCT r.state_id)
			 FROM csv_import_rows r
			 JOIN data_points d
			   ON d.state_id = r.state_id AND d.statistic_id = r.statistic_id AND d.year = r.year
			 JOIN states s ON s.id = r.state_id AND s.active AND s.name <> $1
			 JOIN statistics st ON st.id = r.statistic_id
			 WHERE r.status IN ('valid', 'warning') AND NOT r.is_processed
			   AND ($2::bigint IS NULL OR st.category_id = $2)
			   AND ($3::int IS NULL OR r.year = $3)
			 GROUP BY r.statistic_id, r.year`,
			catalog.NationName, filters.CategoryID, filters.Year,
		)
		if err != nil {
			return eris.Wrap(err, "aggregate: coverage overlap counts")
		}
		defer rows.Close()

		for rows.Next() {
			var (
				key coverageKey
				n   int
			)
			if err := rows.Scan(&key.statisticID, &key.year, &n); err != nil {
				return eris.Wrap(err, "aggregate: scan overlap count")
			}
			mu.Lock()
			overlaps[key] = n
			mu.Unlock()
		}
		return rows.Err()
	})

	g.Go(func() error {
		n, err := e.cat.ActiveStateCount(gctx)
		if err != nil {
			return err
		}
		mu.Lock()
		total = n
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CoverageReport{ActiveStates: total}
	hundred := decimal.NewFromInt(100)
	for key, c := range cells {
		c.OverlapStates = overlaps[key]
		if total > 0 {
			c.CoveragePct = decimal.NewFromInt(int64(c.ProductionStates)).
				Mul(hundred).
				DivRound(decimal.NewFromInt(int64(total)), 2)
		}
		report.Cells = append(report.Cells, *c)
	}
	sort.Slice(report.Cells, func(i, j int) bool {
		a, b := report.Cells[i], report.Cells[j]
		if a.CategoryName != b.CategoryName {
			return a.CategoryName < b.CategoryName
		}
		if a.StatisticName != b.StatisticName {
			return a.StatisticName < b.StatisticName
		}
		return a.Year < b.Year
	})
	return report, nil
}

// coverageCounts runs one grouped count query and hands each row to collect.
func (e *Engine) coverageCounts(ctx context.Context, query string, filters CoverageFilters, collect func(coverageKey, string, string, int)) error {
	rows, err := e.pool.Query(ctx, query, catalog.NationName, filters.CategoryID, filters.Year)
	if err != nil {
		return eris.Wrap(err, "aggregate: coverage counts")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key      coverageKey
			statName string
			catName  string
			n        int
		)
		if err := rows.Scan(&key.statisticID, &statName, &catName, &key.year, &n); err != nil {
			return eris.Wrap(err, "aggregate: scan coverage count")
		}
		collect(key, statName, catName, n)
	}
	return rows.Err()
}

// String renders a cell compactly for CLI output.
func (c CoverageCell) String() string {
	return fmt.Sprintf("%s / %s / %d: %d published, %d staged, %d overlap (%s%%)",
		c.CategoryName, c.StatisticName, c.Year,
		c.ProductionStates, c.StagedStates, c.OverlapStates, c.CoveragePct.StringFixed(2))
}
