package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/catalog"
	"github.com/civicmetrics/statepipe/internal/db"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func numericVal(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	require.NoError(t, n.Scan(s))
	return n
}

// fixedCatalog answers ActiveStateCount with a constant; aggregate queries do
// their own state joins in SQL.
type fixedCatalog struct {
	activeStates int
}

func (c fixedCatalog) StateByName(context.Context, string) (*catalog.State, error) {
	return nil, nil
}

func (c fixedCatalog) CategoryByName(context.Context, string) (*catalog.Category, error) {
	return nil, nil
}

func (c fixedCatalog) StatisticByName(context.Context, int64, string) (*catalog.Statistic, error) {
	return nil, nil
}

func (c fixedCatalog) ActiveStateCount(context.Context) (int, error) {
	return c.activeStates, nil
}

func (c fixedCatalog) States(context.Context) ([]catalog.State, error) {
	return nil, nil
}

func testEngine(pool db.Pool, states int) *Engine {
	return NewEngine(pool, fixedCatalog{activeStates: states}, 16, time.Minute)
}
