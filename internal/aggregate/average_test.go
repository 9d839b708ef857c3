package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmetrics/statepipe/internal/catalog"
)

func TestNationalAverage_CacheHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	computed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT value, state_count, computed_at FROM national_averages").
		WithArgs(int64(12), 2023).
		WillReturnRows(pgxmock.NewRows([]string{"value", "state_count", "computed_at"}).
			AddRow(numericVal(t, "20.5"), 3, computed))

	avg, err := testEngine(mock, 3).NationalAverage(context.Background(), 12, 2023)
	require.NoError(t, err)
	require.NotNil(t, avg)

	assert.Equal(t, "20.5", avg.Value.String())
	assert.Equal(t, 3, avg.StateCount)
	assert.Equal(t, computed, avg.ComputedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNationalAverage_ComputeAndPersist(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT value, state_count, computed_at FROM national_averages").
		WithArgs(int64(12), 2023).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT d.value").
		WithArgs(int64(12), 2023, catalog.NationName).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).
			AddRow(numericVal(t, "10")).
			AddRow(numericVal(t, "20")).
			AddRow(numericVal(t, "30")))
	mock.ExpectExec("INSERT INTO national_averages").
		WithArgs(int64(12), 2023, pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	avg, err := testEngine(mock, 3).NationalAverage(context.Background(), 12, 2023)
	require.NoError(t, err)
	require.NotNil(t, avg)

	assert.Equal(t, "20", avg.Value.String())
	assert.Equal(t, 3, avg.StateCount)
	assert.False(t, avg.ComputedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNationalAverage_RoundsToFourPlaces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT value, state_count, computed_at FROM national_averages").
		WithArgs(int64(12), 2023).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT d.value").
		WithArgs(int64(12), 2023, catalog.NationName).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).
			AddRow(numericVal(t, "1")).
			AddRow(numericVal(t, "1")).
			AddRow(numericVal(t, "0")))
	mock.ExpectExec("INSERT INTO national_averages").
		WithArgs(int64(12), 2023, pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	avg, err := testEngine(mock, 3).NationalAverage(context.Background(), 12, 2023)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.Equal(t, "0.6667", avg.Value.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNationalAverage_NoFacts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT value, state_count, computed_at FROM national_averages").
		WithArgs(int64(12), 1800).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT d.value").
		WithArgs(int64(12), 1800, catalog.NationName).
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	avg, err := testEngine(mock, 3).NationalAverage(context.Background(), 12, 1800)
	require.NoError(t, err)
	assert.Nil(t, avg)
	assert.NoError(t, mock.ExpectationsWereMet())
}
