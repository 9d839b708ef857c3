package importer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return &d
}

func i64(v int64) *int64 { return &v }
func iptr(v int) *int    { return &v }

func stagedAttempt(store *fakeStore, rows ...StagedRow) {
	store.attempts["imp-1"] = &ImportAttempt{ID: "imp-1", Status: StatusStaged}
	store.rows = append(store.rows, rows...)
}

func TestValidate_AllValid(t *testing.T) {
	store := newFakeStore()
	stagedAttempt(store,
		StagedRow{ImportID: "imp-1", RowNumber: 1, StateName: "California", StateID: i64(5),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "100"), Status: RowValid},
		StagedRow{ImportID: "imp-1", RowNumber: 2, StateName: "Texas", StateID: i64(44),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "200"), Status: RowValid},
	)

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	result, err := validator.Validate(context.Background(), "imp-1")
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 2, result.Stats.TotalRows)
	assert.Equal(t, 2, result.Stats.ValidRows)
	assert.Equal(t, 0, result.Stats.ErrorRows)
	assert.GreaterOrEqual(t, result.Stats.ElapsedMs, int64(0))
	assert.Equal(t, StatusValidated, store.attempts["imp-1"].Status)
	assert.NotNil(t, store.attempts["imp-1"].ValidatedAt)
}

func TestValidate_InvalidStagedRowDoesNotBlock(t *testing.T) {
	store := newFakeStore()
	stagedAttempt(store,
		StagedRow{ImportID: "imp-1", RowNumber: 1, StateName: "California", StateID: i64(5),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "100"), Status: RowValid},
		StagedRow{ImportID: "imp-1", RowNumber: 2, StateName: "Texass", Status: RowInvalid,
			Reasons: []RowReason{{Category: CategoryInvalidReference, Message: `state "Texass" not found`}}},
	)

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	result, err := validator.Validate(context.Background(), "imp-1")
	require.NoError(t, err)

	assert.True(t, result.IsValid)
	assert.Equal(t, 1, result.Stats.ValidRows)
	assert.Equal(t, 1, result.Stats.ErrorRows)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].RowNumber)
	assert.Contains(t, result.Errors[0].Message, "not found")
	assert.Equal(t, 1, result.Stats.ByCategory[CategoryInvalidReference])
	assert.Equal(t, StatusValidated, store.attempts["imp-1"].Status)
}

func TestValidate_UnresolvedReferenceOnValidRowFails(t *testing.T) {
	store := newFakeStore()
	stagedAttempt(store,
		StagedRow{ImportID: "imp-1", RowNumber: 1, StateName: "California",
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "100"), Status: RowValid},
	)

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	result, err := validator.Validate(context.Background(), "imp-1")
	require.NoError(t, err)

	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "state", result.Errors[0].FieldName)
	assert.Equal(t, CategoryInvalidReference, result.Errors[0].Category)
	assert.Equal(t, StatusValidationFailed, store.attempts["imp-1"].Status)
}

func TestValidate_OverwriteAndValueWarnings(t *testing.T) {
	store := newFakeStore()
	store.overwrites = map[int]bool{1: true}
	stagedAttempt(store,
		StagedRow{ImportID: "imp-1", RowNumber: 1, StateName: "California", StateID: i64(5),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "100"), Status: RowValid},
		StagedRow{ImportID: "imp-1", RowNumber: 2, StateName: "Texas", StateID: i64(44),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "-5"), Status: RowValid},
		StagedRow{ImportID: "imp-1", RowNumber: 3, StateName: "Texas", StateID: i64(44),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2024), Value: dec(t, "2000000000"), Status: RowValid},
	)

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	result, err := validator.Validate(context.Background(), "imp-1")
	require.NoError(t, err)

	// Warnings never block the transition.
	assert.True(t, result.IsValid)
	assert.Equal(t, 3, result.Stats.ValidRows)
	assert.Equal(t, 3, result.Stats.WarningCount)
	require.Len(t, result.Warnings, 3)
	assert.Contains(t, result.Warnings[0].Message, "overwrite")
	assert.Contains(t, result.Warnings[1].Message, "negative")
	assert.Contains(t, result.Warnings[2].Message, "threshold")

	require.Len(t, store.warnCalls, 1)
	assert.ElementsMatch(t, []int{1, 2, 3}, store.warnCalls[0])
	assert.Equal(t, RowWarning, store.rows[0].Status)
	assert.Equal(t, StatusValidated, store.attempts["imp-1"].Status)
}

func TestValidate_StoreErrorMarksAttemptFailed(t *testing.T) {
	store := newFakeStore()
	stagedAttempt(store,
		StagedRow{ImportID: "imp-1", RowNumber: 1, StateName: "California", StateID: i64(5),
			StatisticName: "GDP", StatisticID: i64(12), Year: iptr(2023), Value: dec(t, "100"), Status: RowValid},
	)
	store.listErr = errDeliberate

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	_, err := validator.Validate(context.Background(), "imp-1")
	require.Error(t, err)

	// A mid-validation store error must not strand the attempt in validating.
	attempt := store.attempts["imp-1"]
	assert.Equal(t, StatusFailed, attempt.Status)
	assert.Contains(t, attempt.ErrorMsg, "deliberate test failure")
	assert.True(t, attempt.Status.Retryable())
}

func TestValidate_WrongStatus(t *testing.T) {
	store := newFakeStore()
	store.attempts["imp-1"] = &ImportAttempt{ID: "imp-1", Status: StatusPublished}

	validator := NewValidator(store, decimal.NewFromInt(1000000000))
	_, err := validator.Validate(context.Background(), "imp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "published")
}

func TestValidate_UnknownAttempt(t *testing.T) {
	validator := NewValidator(newFakeStore(), decimal.NewFromInt(1000000000))
	_, err := validator.Validate(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
