package importer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/catalog"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

var errDeliberate = errors.New("deliberate test failure")

// fakeStore is an in-memory Store for loader, validator and guard tests.
type fakeStore struct {
	attempts   map[string]*ImportAttempt
	rows       []StagedRow
	overwrites map[int]bool
	warnCalls  [][]int
	flushes    int
	createErr  error
	stageErr   error
	listErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{attempts: make(map[string]*ImportAttempt)}
}

func (f *fakeStore) CreateAttempt(_ context.Context, attempt *ImportAttempt) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, prior := range f.attempts {
		if prior.ContentHash == attempt.ContentHash && prior.Status == StatusPublished {
			return ErrDuplicatePublished
		}
	}
	copied := *attempt
	if copied.UploadedAt.IsZero() {
		copied.UploadedAt = time.Now()
	}
	f.attempts[attempt.ID] = &copied
	return nil
}

func (f *fakeStore) GetAttempt(_ context.Context, id string) (*ImportAttempt, error) {
	attempt, ok := f.attempts[id]
	if !ok {
		return nil, nil
	}
	copied := *attempt
	return &copied, nil
}

func (f *fakeStore) LatestAttemptByFingerprint(_ context.Context, hash string) (*ImportAttempt, error) {
	var latest *ImportAttempt
	for _, attempt := range f.attempts {
		if attempt.ContentHash != hash {
			continue
		}
		if latest == nil || attempt.UploadedAt.After(latest.UploadedAt) {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeStore) ListAttempts(_ context.Context, status *Status, _ int) ([]ImportAttempt, error) {
	var attempts []ImportAttempt
	for _, attempt := range f.attempts {
		if status != nil && attempt.Status != *status {
			continue
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, nil
}

func (f *fakeStore) UpdateAttemptStatus(_ context.Context, id string, status Status) error {
	if attempt, ok := f.attempts[id]; ok {
		attempt.Status = status
	}
	return nil
}

func (f *fakeStore) MarkValidated(_ context.Context, id string, status Status) error {
	if attempt, ok := f.attempts[id]; ok {
		attempt.Status = status
		now := time.Now()
		attempt.ValidatedAt = &now
	}
	return nil
}

func (f *fakeStore) SetAttemptError(_ context.Context, id string, msg string) error {
	if attempt, ok := f.attempts[id]; ok {
		attempt.Status = StatusFailed
		attempt.ErrorMsg = msg
	}
	return nil
}

func (f *fakeStore) BulkInsertStagedRows(_ context.Context, rows []StagedRow) (int64, error) {
	if f.stageErr != nil {
		return 0, f.stageErr
	}
	f.flushes++
	f.rows = append(f.rows, rows...)
	return int64(len(rows)), nil
}

func (f *fakeStore) ListStagedRows(_ context.Context, importID string) ([]StagedRow, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var rows []StagedRow
	for _, row := range f.rows {
		if row.ImportID == importID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowNumber < rows[j].RowNumber })
	return rows, nil
}

func (f *fakeStore) DuplicateFactRowNumbers(_ context.Context, _ string) (map[int]bool, error) {
	if f.overwrites == nil {
		return map[int]bool{}, nil
	}
	return f.overwrites, nil
}

func (f *fakeStore) MarkRowsWarning(_ context.Context, importID string, rowNumbers []int) error {
	if len(rowNumbers) == 0 {
		return nil
	}
	f.warnCalls = append(f.warnCalls, rowNumbers)
	marked := make(map[int]bool, len(rowNumbers))
	for _, n := range rowNumbers {
		marked[n] = true
	}
	for i := range f.rows {
		if f.rows[i].ImportID == importID && marked[f.rows[i].RowNumber] && f.rows[i].Status == RowValid {
			f.rows[i].Status = RowWarning
		}
	}
	return nil
}

// fakeCatalog is an in-memory reference catalog.
type fakeCatalog struct {
	states     []catalog.State
	categories []catalog.Category
	statistics []catalog.Statistic
	lookups    int
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		states: []catalog.State{
			{ID: 5, Name: "California", Abbreviation: "CA"},
			{ID: 44, Name: "Texas", Abbreviation: "TX"},
		},
		categories: []catalog.Category{
			{ID: 1, Name: "Economy"},
		},
		statistics: []catalog.Statistic{
			{ID: 12, CategoryID: 1, Name: "GDP"},
		},
	}
}

func (c *fakeCatalog) StateByName(_ context.Context, name string) (*catalog.State, error) {
	c.lookups++
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, s := range c.states {
		if strings.ToLower(s.Name) == needle || strings.ToLower(s.Abbreviation) == needle {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) CategoryByName(_ context.Context, name string) (*catalog.Category, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, cat := range c.categories {
		if strings.ToLower(cat.Name) == needle {
			found := cat
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) StatisticByName(_ context.Context, categoryID int64, name string) (*catalog.Statistic, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, st := range c.statistics {
		if st.CategoryID == categoryID && strings.ToLower(st.Name) == needle {
			found := st
			return &found, nil
		}
	}
	return nil, nil
}

func (c *fakeCatalog) ActiveStateCount(_ context.Context) (int, error) {
	return len(c.states), nil
}

func (c *fakeCatalog) States(_ context.Context) ([]catalog.State, error) {
	return c.states, nil
}

// multiCategoryTemplate returns the template used by most tests.
func multiCategoryTemplate() *Template {
	return &Template{
		ID:              1,
		Name:            "multi-category",
		Kind:            KindMultiCategory,
		ExpectedHeaders: []string{"State", "Year", "Category", "Measure", "Value"},
		Active:          true,
	}
}
