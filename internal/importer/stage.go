package importer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/catalog"
)

// Loader resolves parsed records against the catalog and persists them as
// staged rows. Staging never touches production tables; rows that fail
// resolution are kept with their reasons so validation can report them.
type Loader struct {
	store     Store
	cat       catalog.Catalog
	batchSize int
	log       *zap.Logger
}

// NewLoader creates a Loader. batchSize bounds how many staged rows are
// buffered per COPY flush.
func NewLoader(store Store, cat catalog.Catalog, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Loader{
		store:     store,
		cat:       cat,
		batchSize: batchSize,
		log:       zap.L().With(zap.String("component", "importer.loader")),
	}
}

// Stage maps, resolves and persists every data record of an upload, then
// moves the attempt to staged. Row numbers are 1-based data-row ordinals;
// the header row is not counted.
func (l *Loader) Stage(ctx context.Context, attempt *ImportAttempt, tmpl *Template, header []string, records [][]string) (*StageStats, error) {
	idx := headerIndex(header)
	stats := &StageStats{}

	batch := make([]StagedRow, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := l.store.BulkInsertStagedRows(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for i, record := range records {
		rowNumber := i + 1

		tr, err := MapRow(tmpl.Kind, idx, record)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: map row %d", rowNumber)
		}

		staged, err := l.resolveRow(ctx, attempt, rowNumber, tr.Canonical(attempt.Metadata))
		if err != nil {
			return nil, err
		}
		staged.RawData = rawDataMap(header, record)

		stats.TotalRows++
		if staged.Status == RowValid {
			stats.ValidRows++
		} else {
			stats.InvalidRows++
		}

		batch = append(batch, *staged)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := l.store.UpdateAttemptStatus(ctx, attempt.ID, StatusStaged); err != nil {
		return nil, err
	}
	attempt.Status = StatusStaged

	l.log.Info("staged upload",
		zap.String("import_id", attempt.ID),
		zap.Int("total_rows", stats.TotalRows),
		zap.Int("valid_rows", stats.ValidRows),
		zap.Int("invalid_rows", stats.InvalidRows))
	return stats, nil
}

// resolveRow parses and catalog-resolves one canonical row, accumulating
// reasons instead of failing. A row is valid only when every field parsed and
// every referenced entity resolved.
func (l *Loader) resolveRow(ctx context.Context, attempt *ImportAttempt, rowNumber int, canon CanonicalRow) (*StagedRow, error) {
	row := &StagedRow{
		ImportID:      attempt.ID,
		RowNumber:     rowNumber,
		StateName:     canon.StateName,
		CategoryName:  canon.CategoryName,
		StatisticName: canon.StatisticName,
	}
	fail := func(cat ErrorCategory, format string, args ...any) {
		row.Reasons = append(row.Reasons, RowReason{Category: cat, Message: fmt.Sprintf(format, args...)})
	}

	if canon.StateName == "" {
		fail(CategoryMissingRequired, "state is required")
	}
	if canon.CategoryName == "" {
		fail(CategoryMissingRequired, "category is required")
	}
	if canon.StatisticName == "" {
		fail(CategoryMissingRequired, "statistic is required")
	}

	if canon.RawYear == "" {
		fail(CategoryMissingRequired, "year is required")
	} else if year, err := strconv.Atoi(canon.RawYear); err != nil {
		fail(CategoryDataType, "year %q is not a number", canon.RawYear)
	} else {
		row.Year = &year
	}

	if canon.RawValue == "" {
		fail(CategoryMissingRequired, "value is required")
	} else if value, err := decimal.NewFromString(canon.RawValue); err != nil {
		fail(CategoryDataType, "value %q is not numeric", canon.RawValue)
	} else {
		row.Value = &value
	}

	if canon.StateName != "" {
		state, err := l.cat.StateByName(ctx, canon.StateName)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: resolve state for row %d", rowNumber)
		}
		if state == nil {
			fail(CategoryInvalidReference, "state %q not found", canon.StateName)
		} else {
			row.StateID = &state.ID
		}
	}

	if canon.CategoryName != "" && canon.StatisticName != "" {
		category, err := l.cat.CategoryByName(ctx, canon.CategoryName)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: resolve category for row %d", rowNumber)
		}
		if category == nil {
			fail(CategoryInvalidReference, "category %q not found", canon.CategoryName)
		} else {
			stat, err := l.cat.StatisticByName(ctx, category.ID, canon.StatisticName)
			if err != nil {
				return nil, eris.Wrapf(err, "importer: resolve statistic for row %d", rowNumber)
			}
			if stat == nil {
				fail(CategoryInvalidReference, "statistic %q not found in category %q", canon.StatisticName, canon.CategoryName)
			} else {
				row.StatisticID = &stat.ID
			}
		}
	}

	if len(row.Reasons) == 0 {
		row.Status = RowValid
	} else {
		row.Status = RowInvalid
	}
	return row, nil
}
