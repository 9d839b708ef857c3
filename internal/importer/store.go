package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/civicmetrics/statepipe/internal/db"
)

// ErrDuplicatePublished is returned by CreateAttempt when identical content
// has already been published. The partial unique index on
// (content_hash) WHERE status = 'published' backs the same guarantee.
var ErrDuplicatePublished = errors.New("importer: identical content already published")

// Store defines persistence operations for the import pipeline.
type Store interface {
	CreateAttempt(ctx context.Context, attempt *ImportAttempt) error
	GetAttempt(ctx context.Context, id string) (*ImportAttempt, error)
	LatestAttemptByFingerprint(ctx context.Context, hash string) (*ImportAttempt, error)
	ListAttempts(ctx context.Context, status *Status, limit int) ([]ImportAttempt, error)
	UpdateAttemptStatus(ctx context.Context, id string, status Status) error
	MarkValidated(ctx context.Context, id string, status Status) error
	SetAttemptError(ctx context.Context, id string, msg string) error

	BulkInsertStagedRows(ctx context.Context, rows []StagedRow) (int64, error)
	ListStagedRows(ctx context.Context, importID string) ([]StagedRow, error)
	DuplicateFactRowNumbers(ctx context.Context, importID string) (map[int]bool, error)
	MarkRowsWarning(ctx context.Context, importID string, rowNumbers []int) error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const attemptColumns = `id, filename, byte_size, content_hash, status, template_id, metadata,
	duplicate_of, created_by, error_message, uploaded_at, validated_at, published_at, published_by`

// CreateAttempt inserts a new import attempt. The transaction takes a
// fingerprint-derived advisory lock so two concurrent uploads of the same
// content cannot both slip past the duplicate check, and re-verifies that no
// published attempt with the same hash exists.
func (s *PostgresStore) CreateAttempt(ctx context.Context, attempt *ImportAttempt) error {
	metaJSON, err := json.Marshal(attempt.Metadata)
	if err != nil {
		return eris.Wrap(err, "importer: marshal attempt metadata")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "importer: create attempt: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, attempt.ContentHash); err != nil {
		return eris.Wrap(err, "importer: create attempt: advisory lock")
	}

	var published bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM csv_imports WHERE content_hash = $1 AND status = 'published')`,
		attempt.ContentHash,
	).Scan(&published)
	if err != nil {
		return eris.Wrap(err, "importer: create attempt: duplicate check")
	}
	if published {
		return ErrDuplicatePublished
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO csv_imports (id, filename, byte_size, content_hash, status, template_id, metadata, duplicate_of, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		attempt.ID, attempt.Filename, attempt.ByteSize, attempt.ContentHash,
		string(attempt.Status), attempt.TemplateID, metaJSON, attempt.DuplicateOf, attempt.CreatedBy,
	)
	if err != nil {
		return eris.Wrap(err, "importer: insert attempt")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "importer: create attempt: commit")
	}
	return nil
}

// GetAttempt loads an attempt by id. Returns (nil, nil) when absent.
func (s *PostgresStore) GetAttempt(ctx context.Context, id string) (*ImportAttempt, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM csv_imports WHERE id = $1`, attemptColumns), id)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "importer: get attempt %s", id)
	}
	return attempt, nil
}

// LatestAttemptByFingerprint loads the most recent attempt with the given
// content hash. Returns (nil, nil) when absent.
func (s *PostgresStore) LatestAttemptByFingerprint(ctx context.Context, hash string) (*ImportAttempt, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM csv_imports WHERE content_hash = $1 ORDER BY uploaded_at DESC LIMIT 1`, attemptColumns),
		hash)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "importer: latest attempt by fingerprint")
	}
	return attempt, nil
}

// ListAttempts returns attempts ordered by upload time, newest first.
func (s *PostgresStore) ListAttempts(ctx context.Context, status *Status, limit int) ([]ImportAttempt, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM csv_imports`, attemptColumns)
	args := []any{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += fmt.Sprintf(` ORDER BY uploaded_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "importer: list attempts")
	}
	defer rows.Close()

	var attempts []ImportAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "importer: scan attempt row")
		}
		attempts = append(attempts, *attempt)
	}
	return attempts, rows.Err()
}

// UpdateAttemptStatus transitions an attempt's status.
func (s *PostgresStore) UpdateAttemptStatus(ctx context.Context, id string, status Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE csv_imports SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return eris.Wrapf(err, "importer: update attempt %s to %s", id, status)
	}
	return nil
}

// MarkValidated records the validation outcome and timestamp.
func (s *PostgresStore) MarkValidated(ctx context.Context, id string, status Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE csv_imports SET status = $2, validated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return eris.Wrapf(err, "importer: mark attempt %s validated", id)
	}
	return nil
}

// SetAttemptError marks an attempt failed with an operator-facing message.
func (s *PostgresStore) SetAttemptError(ctx context.Context, id string, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE csv_imports SET status = 'failed', error_message = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return eris.Wrapf(err, "importer: set error on attempt %s", id)
	}
	return nil
}

var stagedRowColumns = []string{
	"import_id", "row_number", "raw_data", "state_name", "state_id",
	"category_name", "statistic_name", "statistic_id", "year", "value", "status", "reasons",
}

// BulkInsertStagedRows inserts staged rows in one COPY batch.
func (s *PostgresStore) BulkInsertStagedRows(ctx context.Context, stagedRows []StagedRow) (int64, error) {
	if len(stagedRows) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(stagedRows))
	for _, r := range stagedRows {
		rawJSON, err := json.Marshal(r.RawData)
		if err != nil {
			return 0, eris.Wrapf(err, "importer: marshal raw data for row %d", r.RowNumber)
		}
		reasonsJSON, err := json.Marshal(r.Reasons)
		if err != nil {
			return 0, eris.Wrapf(err, "importer: marshal reasons for row %d", r.RowNumber)
		}
		value, err := db.NumericFromDecimal(r.Value)
		if err != nil {
			return 0, eris.Wrapf(err, "importer: encode value for row %d", r.RowNumber)
		}

		rows = append(rows, []any{
			r.ImportID, r.RowNumber, rawJSON, r.StateName, r.StateID,
			r.CategoryName, r.StatisticName, r.StatisticID, r.Year, value,
			string(r.Status), reasonsJSON,
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "csv_import_rows", stagedRowColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "importer: bulk insert staged rows")
	}
	return n, nil
}

// ListStagedRows returns all staged rows for an attempt ordered by row number.
func (s *PostgresStore) ListStagedRows(ctx context.Context, importID string) ([]StagedRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, import_id, row_number, raw_data, state_name, state_id,
		        category_name, statistic_name, statistic_id, year, value,
		        status, reasons, is_processed, processed_at
		 FROM csv_import_rows WHERE import_id = $1 ORDER BY row_number`,
		importID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: list staged rows for %s", importID)
	}
	defer rows.Close()

	var staged []StagedRow
	for rows.Next() {
		var (
			r           StagedRow
			rawJSON     []byte
			reasonsJSON []byte
			value       pgtype.Numeric
			status      string
		)
		if err := rows.Scan(
			&r.ID, &r.ImportID, &r.RowNumber, &rawJSON, &r.StateName, &r.StateID,
			&r.CategoryName, &r.StatisticName, &r.StatisticID, &r.Year, &value,
			&status, &reasonsJSON, &r.IsProcessed, &r.ProcessedAt,
		); err != nil {
			return nil, eris.Wrap(err, "importer: scan staged row")
		}
		r.Status = RowStatus(status)
		if rawJSON != nil {
			if err := json.Unmarshal(rawJSON, &r.RawData); err != nil {
				return nil, eris.Wrapf(err, "importer: decode raw data for row %d", r.RowNumber)
			}
		}
		if reasonsJSON != nil {
			if err := json.Unmarshal(reasonsJSON, &r.Reasons); err != nil {
				return nil, eris.Wrapf(err, "importer: decode reasons for row %d", r.RowNumber)
			}
		}
		d, err := db.DecimalFromNumeric(value)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: decode value for row %d", r.RowNumber)
		}
		r.Value = d
		staged = append(staged, r)
	}
	return staged, rows.Err()
}

// DuplicateFactRowNumbers returns the row numbers of valid staged rows whose
// (state, statistic, year) key already has a production fact. Promotion of
// those rows overwrites the existing value.
func (s *PostgresStore) DuplicateFactRowNumbers(ctx context.Context, importID string) (map[int]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.row_number
		 FROM csv_import_rows r
		 JOIN data_points d
		   ON d.state_id = r.state_id AND d.statistic_id = r.statistic_id AND d.year = r.year
		 WHERE r.import_id = $1 AND r.status = 'valid'`,
		importID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: duplicate fact check for %s", importID)
	}
	defer rows.Close()

	dupes := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "importer: scan duplicate row number")
		}
		dupes[n] = true
	}
	return dupes, rows.Err()
}

// MarkRowsWarning flips valid rows to warning status. Warning rows remain
// eligible for promotion.
func (s *PostgresStore) MarkRowsWarning(ctx context.Context, importID string, rowNumbers []int) error {
	if len(rowNumbers) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE csv_import_rows SET status = 'warning'
		 WHERE import_id = $1 AND row_number = ANY($2) AND status = 'valid'`,
		importID, rowNumbers,
	)
	if err != nil {
		return eris.Wrapf(err, "importer: mark warning rows for %s", importID)
	}
	return nil
}

// scanAttempt scans one csv_imports row in attemptColumns order.
func scanAttempt(row pgx.Row) (*ImportAttempt, error) {
	var (
		a        ImportAttempt
		status   string
		metaJSON []byte
		errMsg   *string
		pubBy    *string
	)
	err := row.Scan(
		&a.ID, &a.Filename, &a.ByteSize, &a.ContentHash, &status, &a.TemplateID, &metaJSON,
		&a.DuplicateOf, &a.CreatedBy, &errMsg, &a.UploadedAt, &a.ValidatedAt, &a.PublishedAt, &pubBy,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, eris.Wrap(err, "importer: decode attempt metadata")
		}
	}
	if errMsg != nil {
		a.ErrorMsg = *errMsg
	}
	if pubBy != nil {
		a.PublishedBy = *pubBy
	}
	return &a, nil
}

// touchedAt is a small helper for audit messages.
func touchedAt(actor string, t time.Time) string {
	return fmt.Sprintf("%s at %s", actor, t.UTC().Format(time.RFC3339))
}
