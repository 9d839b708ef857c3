package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pipeline orchestrates the upload path: template resolution, parsing, header
// validation, duplicate detection, attempt creation and staging. Failures are
// returned as structured results so callers can render them directly; only
// unexpected persistence errors come back as Go errors.
type Pipeline struct {
	store    Store
	registry *Registry
	guard    *Guard
	loader   *Loader
	log      *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store Store, registry *Registry, loader *Loader) *Pipeline {
	return &Pipeline{
		store:    store,
		registry: registry,
		guard:    NewGuard(store),
		loader:   loader,
		log:      zap.L().With(zap.String("component", "importer.pipeline")),
	}
}

// Upload ingests raw file bytes against a template and stages them. CSV and
// XLSX payloads are accepted; XLSX is detected by filename extension.
func (p *Pipeline) Upload(ctx context.Context, filename string, data []byte, templateID int64, metadata map[string]string, actor string) (*UploadResult, error) {
	tmpl, err := p.registry.Resolve(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return &UploadResult{
			Success: false,
			Message: fmt.Sprintf("template %d not found or inactive", templateID),
		}, nil
	}

	header, records, parseErr := parseUpload(filename, data)
	if parseErr != nil {
		return &UploadResult{
			Success: false,
			Message: "file could not be parsed",
			Errors: []ValidationError{{
				Category: CategoryCSVParsing,
				Message:  parseErr.Error(),
			}},
		}, nil
	}

	if check := ValidateHeaders(header, tmpl); !check.OK {
		var errs []ValidationError
		for _, h := range check.Missing {
			errs = append(errs, ValidationError{
				FieldName: h,
				Category:  CategoryCSVParsing,
				Message:   fmt.Sprintf("required header %q is missing", h),
			})
		}
		for _, h := range check.Unexpected {
			errs = append(errs, ValidationError{
				FieldName: h,
				Category:  CategoryCSVParsing,
				Message:   fmt.Sprintf("header %q is not part of template %s", h, tmpl.Name),
			})
		}
		return &UploadResult{
			Success: false,
			Message: fmt.Sprintf("headers do not match template %s", tmpl.Name),
			Errors:  errs,
		}, nil
	}

	fingerprint, err := Fingerprint(data)
	if err != nil {
		return nil, err
	}

	guard, err := p.guard.Check(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if guard.IsDuplicate && !guard.CanRetry {
		return &UploadResult{Success: false, Message: guard.Reason}, nil
	}

	attempt := &ImportAttempt{
		ID:          uuid.NewString(),
		Filename:    filename,
		ByteSize:    int64(len(data)),
		ContentHash: fingerprint,
		Status:      StatusUploaded,
		TemplateID:  templateID,
		Metadata:    metadata,
		CreatedBy:   actor,
	}
	if guard.IsDuplicate && guard.OriginalImport != nil {
		attempt.DuplicateOf = &guard.OriginalImport.ID
	}

	if err := p.store.CreateAttempt(ctx, attempt); err != nil {
		if errors.Is(err, ErrDuplicatePublished) {
			return &UploadResult{
				Success: false,
				Message: "identical content was already published by a concurrent upload",
			}, nil
		}
		return nil, err
	}

	stats, err := p.loader.Stage(ctx, attempt, tmpl, header, records)
	if err != nil {
		p.log.Error("staging failed", zap.String("import_id", attempt.ID), zap.Error(err))
		if setErr := p.store.SetAttemptError(ctx, attempt.ID, eris.ToString(err, false)); setErr != nil {
			p.log.Error("failed to mark attempt failed", zap.String("import_id", attempt.ID), zap.Error(setErr))
		}
		return &UploadResult{
			Success:  false,
			ImportID: attempt.ID,
			Message:  fmt.Sprintf("staging failed; import %s is marked failed and can be retried", attempt.ID),
		}, nil
	}

	return &UploadResult{
		Success:  true,
		ImportID: attempt.ID,
		Message: fmt.Sprintf("staged %d rows (%d valid, %d invalid)",
			stats.TotalRows, stats.ValidRows, stats.InvalidRows),
		Stats: stats,
	}, nil
}

// xlsxMagic is the ZIP local-file signature; XLSX workbooks are ZIP archives.
var xlsxMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// parseUpload splits an upload into header and data records. XLSX is detected
// by the ZIP magic bytes with the filename extension as a fallback; CSV
// payloads are normalized first so BOMs and blank lines never reach the
// CSV reader.
func parseUpload(filename string, data []byte) ([]string, [][]string, error) {
	if bytes.HasPrefix(data, xlsxMagic) || strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return rowsFromXLSX(data)
	}

	normalized, err := NormalizeContent(data)
	if err != nil {
		return nil, nil, err
	}
	if len(normalized) == 0 {
		return nil, nil, eris.New("file is empty")
	}

	reader := csv.NewReader(bytes.NewReader(normalized))
	reader.FieldsPerRecord = -1

	var (
		header  []string
		records [][]string
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "malformed CSV")
		}
		if header == nil {
			header = record
			continue
		}
		records = append(records, record)
	}
	if header == nil {
		return nil, nil, eris.New("file has no header row")
	}
	return header, records, nil
}
