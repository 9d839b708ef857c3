package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/db"
)

// Promoter publishes a validated attempt's eligible staged rows into the
// production fact table. The whole promotion runs in one transaction: either
// every eligible row lands and the attempt flips to published, or nothing
// changes and the attempt stays validated.
type Promoter struct {
	pool db.Pool
	log  *zap.Logger
}

// NewPromoter creates a Promoter.
func NewPromoter(pool db.Pool) *Promoter {
	return &Promoter{
		pool: pool,
		log:  zap.L().With(zap.String("component", "importer.promoter")),
	}
}

type eligibleRow struct {
	stateID     int64
	statisticID int64
	year        int
	value       pgtype.Numeric
}

func (r eligibleRow) key() string {
	return fmt.Sprintf("%d/%d/%d", r.stateID, r.statisticID, r.year)
}

// Promote publishes the attempt. Rows with status valid or warning are
// eligible; invalid rows are skipped. An existing fact for the same
// (state, statistic, year) key keeps its original session and only its value
// is overwritten. Cached national averages for every touched
// (statistic, year) pair are dropped inside the same transaction.
func (p *Promoter) Promote(ctx context.Context, importID string, actor string) (*PromoteResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: begin tx")
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM csv_imports WHERE id = $1 FOR UPDATE`, importID,
	).Scan(&status)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: promote: load attempt %s", importID)
	}
	if Status(status) != StatusValidated {
		return &PromoteResult{
			Success: false,
			Message: fmt.Sprintf("cannot promote import %s: status is %s, expected validated", importID, status),
		}, nil
	}

	var sessionID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO import_sessions (name, import_id, created_by)
		 VALUES ($1, $2, $3) RETURNING id`,
		fmt.Sprintf("import %s", importID), importID, actor,
	).Scan(&sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: create session")
	}

	rows, err := tx.Query(ctx,
		`SELECT state_id, statistic_id, year, value FROM csv_import_rows
		 WHERE import_id = $1 AND status IN ('valid', 'warning')
		 ORDER BY row_number`,
		importID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: select eligible rows")
	}

	// Last occurrence wins when an upload repeats a (state, statistic, year)
	// key; COPY into the upsert temp table cannot resolve the conflict itself.
	byKey := make(map[string]int)
	var eligible []eligibleRow
	for rows.Next() {
		var r eligibleRow
		if err := rows.Scan(&r.stateID, &r.statisticID, &r.year, &r.value); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "importer: promote: scan eligible row")
		}
		if at, seen := byKey[r.key()]; seen {
			eligible[at] = r
			continue
		}
		byKey[r.key()] = len(eligible)
		eligible = append(eligible, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "importer: promote: read eligible rows")
	}

	if len(eligible) > 0 {
		upsertRows := make([][]any, len(eligible))
		for i, r := range eligible {
			upsertRows[i] = []any{r.stateID, r.statisticID, r.year, r.value, sessionID}
		}
		_, err = db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
			Table:        "data_points",
			Columns:      []string{"state_id", "statistic_id", "year", "value", "import_session_id"},
			ConflictKeys: []string{"state_id", "statistic_id", "year"},
			UpdateCols:   []string{"value"},
		}, upsertRows)
		if err != nil {
			return nil, eris.Wrap(err, "importer: promote: upsert facts")
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE csv_import_rows SET is_processed = true, processed_at = now()
		 WHERE import_id = $1 AND status IN ('valid', 'warning')`,
		importID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: mark rows processed")
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM national_averages a
		 USING csv_import_rows r
		 WHERE r.import_id = $1 AND r.status IN ('valid', 'warning')
		   AND a.statistic_id = r.statistic_id AND a.year = r.year`,
		importID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: drop stale averages")
	}

	_, err = tx.Exec(ctx,
		`UPDATE csv_imports SET status = 'published', published_at = now(), published_by = $2
		 WHERE id = $1`,
		importID, actor,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: promote: publish attempt")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "importer: promote: commit")
	}

	p.log.Info("promoted attempt",
		zap.String("import_id", importID),
		zap.Int64("session_id", sessionID),
		zap.Int("published_rows", len(eligible)),
		zap.String("actor", actor))
	return &PromoteResult{
		Success:       true,
		PublishedRows: len(eligible),
		Message:       fmt.Sprintf("published %d rows by %s", len(eligible), touchedAt(actor, time.Now())),
	}, nil
}
