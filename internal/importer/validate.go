package importer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Validator checks staged rows before promotion. Rows already marked invalid
// at staging time are reported but do not block the attempt; only an
// integrity breach on a supposedly valid row (a resolved name with a null id)
// is a hard failure. Overwrite and implausible-value findings are warnings.
type Validator struct {
	store    Store
	maxValue decimal.Decimal
	log      *zap.Logger
}

// NewValidator creates a Validator. maxValue is the sanity threshold above
// which a value draws a warning.
func NewValidator(store Store, maxValue decimal.Decimal) *Validator {
	return &Validator{
		store:    store,
		maxValue: maxValue,
		log:      zap.L().With(zap.String("component", "importer.validator")),
	}
}

// Validate runs validation over a staged attempt and transitions it to
// validated or validation_failed. Warnings never block the transition.
func (v *Validator) Validate(ctx context.Context, importID string) (*ValidationResult, error) {
	attempt, err := v.store.GetAttempt(ctx, importID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, eris.Errorf("importer: attempt %s not found", importID)
	}
	if attempt.Status != StatusStaged {
		return nil, eris.Errorf("importer: cannot validate attempt %s in status %s", importID, attempt.Status)
	}

	if err := v.store.UpdateAttemptStatus(ctx, importID, StatusValidating); err != nil {
		return nil, err
	}

	start := time.Now()

	rows, err := v.store.ListStagedRows(ctx, importID)
	if err != nil {
		return v.abort(ctx, importID, err)
	}
	overwrites, err := v.store.DuplicateFactRowNumbers(ctx, importID)
	if err != nil {
		return v.abort(ctx, importID, err)
	}

	result := &ValidationResult{
		Stats: ValidationStats{ByCategory: make(map[ErrorCategory]int)},
	}
	var (
		warnRows  []int
		hardCount int
	)

	for _, row := range rows {
		result.Stats.TotalRows++

		if row.Status == RowInvalid {
			result.Stats.ErrorRows++
			for _, reason := range row.Reasons {
				result.Stats.ByCategory[reason.Category]++
				result.Errors = append(result.Errors, ValidationError{
					RowNumber: row.RowNumber,
					Category:  reason.Category,
					Message:   reason.Message,
				})
			}
			continue
		}

		hard := false
		if row.StateName != "" && row.StateID == nil {
			hard = true
			result.Stats.ByCategory[CategoryInvalidReference]++
			result.Errors = append(result.Errors, ValidationError{
				RowNumber:  row.RowNumber,
				FieldName:  "state",
				FieldValue: row.StateName,
				Category:   CategoryInvalidReference,
				Message:    "state was not resolved at staging time",
			})
		}
		if row.StatisticName != "" && row.StatisticID == nil {
			hard = true
			result.Stats.ByCategory[CategoryInvalidReference]++
			result.Errors = append(result.Errors, ValidationError{
				RowNumber:  row.RowNumber,
				FieldName:  "statistic",
				FieldValue: row.StatisticName,
				Category:   CategoryInvalidReference,
				Message:    "statistic was not resolved at staging time",
			})
		}
		if hard {
			hardCount++
			result.Stats.ErrorRows++
			continue
		}

		warned := false
		if overwrites[row.RowNumber] {
			warned = true
			result.Warnings = append(result.Warnings, ValidationError{
				RowNumber: row.RowNumber,
				Category:  CategoryBusinessRule,
				Message:   "a published value already exists for this state, statistic and year; promotion will overwrite it",
			})
		}
		if row.Value != nil {
			if row.Value.IsNegative() {
				warned = true
				result.Warnings = append(result.Warnings, ValidationError{
					RowNumber:  row.RowNumber,
					FieldName:  "value",
					FieldValue: row.Value.String(),
					Category:   CategoryBusinessRule,
					Message:    "value is negative",
				})
			} else if row.Value.GreaterThan(v.maxValue) {
				warned = true
				result.Warnings = append(result.Warnings, ValidationError{
					RowNumber:  row.RowNumber,
					FieldName:  "value",
					FieldValue: row.Value.String(),
					Category:   CategoryBusinessRule,
					Message:    "value exceeds the plausibility threshold " + v.maxValue.String(),
				})
			}
		}
		if warned {
			warnRows = append(warnRows, row.RowNumber)
		}
		result.Stats.ValidRows++
	}

	result.Stats.WarningCount = len(result.Warnings)
	result.Stats.ElapsedMs = time.Since(start).Milliseconds()

	// Invalid-at-staging rows are excluded from promotion anyway; only an
	// unresolved reference on a supposedly valid row fails the attempt.
	result.IsValid = hardCount == 0

	if err := v.store.MarkRowsWarning(ctx, importID, warnRows); err != nil {
		return v.abort(ctx, importID, err)
	}

	next := StatusValidated
	if !result.IsValid {
		next = StatusValidationFailed
	}
	if err := v.store.MarkValidated(ctx, importID, next); err != nil {
		return v.abort(ctx, importID, err)
	}

	v.log.Info("validated attempt",
		zap.String("import_id", importID),
		zap.String("status", string(next)),
		zap.Int("total_rows", result.Stats.TotalRows),
		zap.Int("valid_rows", result.Stats.ValidRows),
		zap.Int("error_rows", result.Stats.ErrorRows),
		zap.Int("warnings", result.Stats.WarningCount),
		zap.Int64("elapsed_ms", result.Stats.ElapsedMs))
	return result, nil
}

// abort marks the attempt failed when a store error interrupts validation, so
// it does not strand in validating. A failed attempt stays retryable.
func (v *Validator) abort(ctx context.Context, importID string, err error) (*ValidationResult, error) {
	v.log.Error("validation aborted", zap.String("import_id", importID), zap.Error(err))
	if setErr := v.store.SetAttemptError(ctx, importID, eris.ToString(err, false)); setErr != nil {
		v.log.Error("failed to mark attempt failed", zap.String("import_id", importID), zap.Error(setErr))
	}
	return nil, err
}
