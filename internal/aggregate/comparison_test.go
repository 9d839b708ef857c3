package aggregate

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmetrics/statepipe/internal/catalog"
)

func comparisonColumns() []string {
	return []string{"statistic_id", "statistic_name", "category_name", "value", "rnk", "n"}
}

func TestStateComparison_Percentiles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name FROM states WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("California"))
	mock.ExpectQuery("RANK\\(\\) OVER").
		WithArgs(int64(5), 2023, catalog.NationName).
		WillReturnRows(pgxmock.NewRows(comparisonColumns()).
			AddRow(int64(12), "GDP", "Economy", numericVal(t, "300"), 1, 4).
			AddRow(int64(13), "Unemployment", "Economy", numericVal(t, "4.1"), 2, 4))

	cmp, err := testEngine(mock, 4).StateComparison(context.Background(), 5, 2023)
	require.NoError(t, err)
	require.NotNil(t, cmp)

	assert.Equal(t, "California", cmp.StateName)
	require.Len(t, cmp.Entries, 2)

	// Rank 1 of 4 sits at the 100th percentile, rank 2 of 4 at the 75th.
	assert.Equal(t, "100", cmp.Entries[0].Percentile.String())
	assert.Equal(t, "75", cmp.Entries[1].Percentile.String())
	assert.Equal(t, 4, cmp.Entries[0].StateCount)
	assert.Equal(t, "GDP", cmp.Entries[0].StatisticName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateComparison_UnknownState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name FROM states WHERE id").
		WithArgs(int64(999)).
		WillReturnError(pgx.ErrNoRows)

	cmp, err := testEngine(mock, 4).StateComparison(context.Background(), 999, 2023)
	require.NoError(t, err)
	assert.Nil(t, cmp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateComparison_NoDataYieldsEmptyEntries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name FROM states WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("California"))
	mock.ExpectQuery("RANK\\(\\) OVER").
		WithArgs(int64(5), 1800, catalog.NationName).
		WillReturnRows(pgxmock.NewRows(comparisonColumns()))

	cmp, err := testEngine(mock, 4).StateComparison(context.Background(), 5, 1800)
	require.NoError(t, err)
	require.NotNil(t, cmp)
	assert.Empty(t, cmp.Entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateComparison_CachedSecondCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT name FROM states WHERE id").
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("California"))
	mock.ExpectQuery("RANK\\(\\) OVER").
		WithArgs(int64(5), 2023, catalog.NationName).
		WillReturnRows(pgxmock.NewRows(comparisonColumns()).
			AddRow(int64(12), "GDP", "Economy", numericVal(t, "300"), 1, 4))

	engine := testEngine(mock, 4)
	first, err := engine.StateComparison(context.Background(), 5, 2023)
	require.NoError(t, err)

	second, err := engine.StateComparison(context.Background(), 5, 2023)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
