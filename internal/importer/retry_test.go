package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectTemplateResolve queues a template row for a Registry.Resolve call.
func expectTemplateResolve(t *testing.T, mock pgxmock.PgxPoolIface, id int64, kind TemplateKind, headers []string) {
	t.Helper()
	schema, err := json.Marshal(map[string]any{"expectedHeaders": headers})
	require.NoError(t, err)
	mock.ExpectQuery("SELECT id, name, kind, schema, sample_csv, active FROM templates").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "kind", "schema", "sample_csv", "active"}).
			AddRow(id, fmt.Sprintf("template-%d", id), kind, schema, (*string)(nil), true))
}

func failedAttemptWithRows(store *fakeStore) {
	store.attempts["imp-1"] = &ImportAttempt{
		ID:          "imp-1",
		Filename:    "gdp.csv",
		ByteSize:    42,
		ContentHash: "abc123",
		Status:      StatusFailed,
		TemplateID:  1,
	}
	store.rows = append(store.rows,
		StagedRow{ImportID: "imp-1", RowNumber: 1, Status: RowValid,
			RawData: map[string]string{"State": "California", "Year": "2023", "Category": "Economy", "Measure": "GDP", "Value": "100"}},
		StagedRow{ImportID: "imp-1", RowNumber: 2, Status: RowInvalid,
			RawData: map[string]string{"State": "Texass", "Year": "2023", "Category": "Economy", "Measure": "GDP", "Value": "200"}},
	)
}

func newRetrier(t *testing.T, store *fakeStore) (*Retrier, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	loader := NewLoader(store, testCatalog(), 0)
	return NewRetrier(store, NewRegistry(mock), loader), mock
}

func TestRetry_CreatesFreshAttempt(t *testing.T) {
	store := newFakeStore()
	failedAttemptWithRows(store)
	retrier, mock := newRetrier(t, store)
	expectTemplateResolve(t, mock, 1, KindMultiCategory, multiCategoryTemplate().ExpectedHeaders)

	result, err := retrier.Retry(context.Background(), "imp-1", "analyst")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEqual(t, "imp-1", result.ImportID)
	require.NotNil(t, result.Stats)
	assert.Equal(t, 2, result.Stats.TotalRows)
	assert.Equal(t, 1, result.Stats.ValidRows)
	assert.Equal(t, 1, result.Stats.InvalidRows)

	// The original stays failed for the audit trail.
	assert.Equal(t, StatusFailed, store.attempts["imp-1"].Status)

	fresh := store.attempts[result.ImportID]
	require.NotNil(t, fresh)
	assert.Equal(t, StatusStaged, fresh.Status)
	assert.Equal(t, "abc123", fresh.ContentHash)
	require.NotNil(t, fresh.DuplicateOf)
	assert.Equal(t, "imp-1", *fresh.DuplicateOf)
	assert.Equal(t, "analyst", fresh.CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetry_NonRetryableStatus(t *testing.T) {
	store := newFakeStore()
	store.attempts["imp-1"] = &ImportAttempt{ID: "imp-1", Status: StatusPublished, TemplateID: 1}
	retrier, _ := newRetrier(t, store)

	result, err := retrier.Retry(context.Background(), "imp-1", "analyst")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "cannot be retried")
}

func TestRetry_UnknownAttempt(t *testing.T) {
	retrier, _ := newRetrier(t, newFakeStore())

	_, err := retrier.Retry(context.Background(), "missing", "analyst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRetry_NoStagedRows(t *testing.T) {
	store := newFakeStore()
	store.attempts["imp-1"] = &ImportAttempt{ID: "imp-1", Status: StatusValidationFailed, TemplateID: 1}
	retrier, mock := newRetrier(t, store)
	expectTemplateResolve(t, mock, 1, KindMultiCategory, multiCategoryTemplate().ExpectedHeaders)

	result, err := retrier.Retry(context.Background(), "imp-1", "analyst")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "re-upload")
}

func TestRetry_PublishedSinceOriginal(t *testing.T) {
	store := newFakeStore()
	failedAttemptWithRows(store)
	store.attempts["imp-0"] = &ImportAttempt{ID: "imp-0", ContentHash: "abc123", Status: StatusPublished}
	retrier, mock := newRetrier(t, store)
	expectTemplateResolve(t, mock, 1, KindMultiCategory, multiCategoryTemplate().ExpectedHeaders)

	result, err := retrier.Retry(context.Background(), "imp-1", "analyst")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "has since been published")
}
