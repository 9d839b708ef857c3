package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Retrier re-enters the pipeline for a failed or validation_failed attempt.
// The original attempt is left untouched as an audit trail; a new attempt is
// created with duplicate_of pointing at it and re-staged from the original
// attempt's retained raw row data.
type Retrier struct {
	store    Store
	registry *Registry
	loader   *Loader
	log      *zap.Logger
}

// NewRetrier creates a Retrier.
func NewRetrier(store Store, registry *Registry, loader *Loader) *Retrier {
	return &Retrier{
		store:    store,
		registry: registry,
		loader:   loader,
		log:      zap.L().With(zap.String("component", "importer.retrier")),
	}
}

// Retry creates and stages a fresh attempt for a retryable one. File bytes
// are not retained after upload, so records are rebuilt from the original
// attempt's staged raw data.
func (r *Retrier) Retry(ctx context.Context, importID string, actor string) (*RetryResult, error) {
	original, err := r.store.GetAttempt(ctx, importID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, eris.Errorf("importer: attempt %s not found", importID)
	}
	if !original.Status.Retryable() {
		return &RetryResult{
			Success: false,
			Message: fmt.Sprintf("import %s has status %s and cannot be retried; only failed or validation_failed attempts can", importID, original.Status),
		}, nil
	}

	tmpl, err := r.registry.Resolve(ctx, original.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return &RetryResult{
			Success: false,
			Message: fmt.Sprintf("template %d used by import %s is no longer available", original.TemplateID, importID),
		}, nil
	}

	stagedRows, err := r.store.ListStagedRows(ctx, importID)
	if err != nil {
		return nil, err
	}
	if len(stagedRows) == 0 {
		return &RetryResult{
			Success: false,
			Message: fmt.Sprintf("import %s retained no staged rows; re-upload the original file instead", importID),
		}, nil
	}

	records := make([][]string, len(stagedRows))
	for i, row := range stagedRows {
		byHeader := make(map[string]string, len(row.RawData))
		for k, v := range row.RawData {
			byHeader[normalizeHeader(k)] = v
		}
		record := make([]string, len(tmpl.ExpectedHeaders))
		for j, h := range tmpl.ExpectedHeaders {
			record[j] = byHeader[normalizeHeader(h)]
		}
		records[i] = record
	}

	attempt := &ImportAttempt{
		ID:          uuid.NewString(),
		Filename:    original.Filename,
		ByteSize:    original.ByteSize,
		ContentHash: original.ContentHash,
		Status:      StatusUploaded,
		TemplateID:  original.TemplateID,
		Metadata:    original.Metadata,
		DuplicateOf: &original.ID,
		CreatedBy:   actor,
	}
	if err := r.store.CreateAttempt(ctx, attempt); err != nil {
		if errors.Is(err, ErrDuplicatePublished) {
			return &RetryResult{
				Success: false,
				Message: "identical content has since been published; retry is not allowed",
			}, nil
		}
		return nil, err
	}

	stats, err := r.loader.Stage(ctx, attempt, tmpl, tmpl.ExpectedHeaders, records)
	if err != nil {
		if setErr := r.store.SetAttemptError(ctx, attempt.ID, eris.ToString(err, false)); setErr != nil {
			r.log.Error("failed to mark retry attempt failed", zap.String("import_id", attempt.ID), zap.Error(setErr))
		}
		return nil, eris.Wrapf(err, "importer: retry staging for %s", attempt.ID)
	}

	r.log.Info("retried attempt",
		zap.String("original_id", importID),
		zap.String("import_id", attempt.ID),
		zap.Int("total_rows", stats.TotalRows))
	return &RetryResult{
		Success:  true,
		ImportID: attempt.ID,
		Message:  fmt.Sprintf("created retry attempt %s from %s", attempt.ID, importID),
		Stats:    stats,
	}, nil
}
