// Package importer implements the staging-validation-promotion pipeline for
// tabular state statistics: uploads are fingerprinted, staged row by row
// against the reference catalog, validated, and promoted into the production
// fact table inside one import session, with rollback and retry support.
package importer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the import attempt lifecycle state.
//
// uploaded → staged → validated → published  (success path)
// uploaded → staged → validation_failed      (retryable)
// any → failed                               (system error, retryable)
// published → rolled_back                    (terminal)
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusValidating       Status = "validating"
	StatusStaged           Status = "staged"
	StatusValidated        Status = "validated"
	StatusValidationFailed Status = "validation_failed"
	StatusPublished        Status = "published"
	StatusRolledBack       Status = "rolled_back"
	StatusFailed           Status = "failed"
)

// Retryable reports whether a fresh attempt may be created for an attempt in
// this status via Retry.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusValidationFailed
}

// Terminal reports whether the attempt record is immutable.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusRolledBack
}

// RowStatus is the per-staged-row validation state.
type RowStatus string

const (
	RowPending RowStatus = "pending"
	RowValid   RowStatus = "valid"
	RowInvalid RowStatus = "invalid"
	RowWarning RowStatus = "warning"
)

// ErrorCategory classifies row- and attempt-level failures.
type ErrorCategory string

const (
	CategoryCSVParsing       ErrorCategory = "csv_parsing"
	CategoryMissingRequired  ErrorCategory = "missing_required"
	CategoryDataType         ErrorCategory = "data_type"
	CategoryInvalidReference ErrorCategory = "invalid_reference"
	CategoryBusinessRule     ErrorCategory = "business_rule"
	CategoryDatabaseError    ErrorCategory = "database_error"
)

// ImportAttempt is one upload's lifecycle record (the csv_imports row).
type ImportAttempt struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	ByteSize    int64             `json:"byte_size"`
	ContentHash string            `json:"content_hash"`
	Status      Status            `json:"status"`
	TemplateID  int64             `json:"template_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DuplicateOf *string           `json:"duplicate_of,omitempty"`
	CreatedBy   string            `json:"created_by"`
	ErrorMsg    string            `json:"error_message,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	ValidatedAt *time.Time        `json:"validated_at,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	PublishedBy string            `json:"published_by,omitempty"`
}

// RowReason is one human-readable failure reason attached to a staged row,
// persisted as structured JSON rather than an opaque string.
type RowReason struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// StagedRow is one parsed-and-resolved input row awaiting promotion.
// Invariant: Status == valid implies StateID, StatisticID, Year and Value
// are all non-nil.
type StagedRow struct {
	ID            int64             `json:"id"`
	ImportID      string            `json:"import_id"`
	RowNumber     int               `json:"row_number"`
	RawData       map[string]string `json:"raw_data,omitempty"`
	StateName     string            `json:"state_name"`
	StateID       *int64            `json:"state_id,omitempty"`
	CategoryName  string            `json:"category_name"`
	StatisticName string            `json:"statistic_name"`
	StatisticID   *int64            `json:"statistic_id,omitempty"`
	Year          *int              `json:"year,omitempty"`
	Value         *decimal.Decimal  `json:"value,omitempty"`
	Status        RowStatus         `json:"status"`
	Reasons       []RowReason       `json:"reasons,omitempty"`
	IsProcessed   bool              `json:"is_processed"`
	ProcessedAt   *time.Time        `json:"processed_at,omitempty"`
}

// ValidationError is one row-scoped finding surfaced to the caller.
type ValidationError struct {
	RowNumber  int           `json:"row_number"`
	FieldName  string        `json:"field_name,omitempty"`
	FieldValue string        `json:"field_value,omitempty"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
}

// StageStats summarizes a staging run.
type StageStats struct {
	TotalRows   int `json:"total_rows"`
	ValidRows   int `json:"valid_rows"`
	InvalidRows int `json:"invalid_rows"`
}

// UploadResult is returned by the upload operation.
type UploadResult struct {
	Success  bool              `json:"success"`
	ImportID string            `json:"import_id,omitempty"`
	Message  string            `json:"message"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Stats    *StageStats       `json:"stats,omitempty"`
}

// ValidationStats aggregates a validation run.
type ValidationStats struct {
	TotalRows    int                   `json:"total_rows"`
	ValidRows    int                   `json:"valid_rows"`
	ErrorRows    int                   `json:"error_rows"`
	WarningCount int                   `json:"warning_count"`
	ElapsedMs    int64                 `json:"elapsed_ms"`
	ByCategory   map[ErrorCategory]int `json:"by_category,omitempty"`
}

// ValidationResult is returned by the validation operation.
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
	Stats    ValidationStats   `json:"stats"`
}

// PromoteResult is returned by the promotion operation.
type PromoteResult struct {
	Success       bool   `json:"success"`
	PublishedRows int    `json:"published_rows"`
	Message       string `json:"message"`
}

// RollbackResult is returned by the rollback operation.
type RollbackResult struct {
	Success        bool   `json:"success"`
	RolledBackRows int    `json:"rolled_back_rows"`
	Message        string `json:"message"`
}

// RetryResult is returned by the retry operation.
type RetryResult struct {
	Success  bool        `json:"success"`
	ImportID string      `json:"import_id,omitempty"`
	Message  string      `json:"message"`
	Stats    *StageStats `json:"stats,omitempty"`
}

// GuardResult is the duplicate-check outcome for a content fingerprint.
type GuardResult struct {
	IsDuplicate    bool           `json:"is_duplicate"`
	CanRetry       bool           `json:"can_retry"`
	Reason         string         `json:"reason,omitempty"`
	OriginalImport *ImportAttempt `json:"original_import,omitempty"`
}
