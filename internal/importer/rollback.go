package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicmetrics/statepipe/internal/db"
)

// Rollbacker reverses a promotion by deleting the facts its session created.
// Facts that existed before the promotion and were merely overwritten belong
// to their original sessions and are left untouched.
type Rollbacker struct {
	pool db.Pool
	log  *zap.Logger
}

// NewRollbacker creates a Rollbacker.
func NewRollbacker(pool db.Pool) *Rollbacker {
	return &Rollbacker{
		pool: pool,
		log:  zap.L().With(zap.String("component", "importer.rollbacker")),
	}
}

// Rollback deletes every fact owned by the attempt's promotion session and
// moves the attempt to rolled_back. Staged row processed flags are not
// resurrected; reprocessing the same file requires a fresh attempt.
func (r *Rollbacker) Rollback(ctx context.Context, importID string, actor string) (*RollbackResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "importer: rollback: begin tx")
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM csv_imports WHERE id = $1 FOR UPDATE`, importID,
	).Scan(&status)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: rollback: load attempt %s", importID)
	}
	if Status(status) != StatusPublished {
		return &RollbackResult{
			Success: false,
			Message: fmt.Sprintf("cannot rollback non-published session: import %s has status %s", importID, status),
		}, nil
	}

	var sessionID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM import_sessions WHERE import_id = $1 ORDER BY created_at DESC LIMIT 1`,
		importID,
	).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &RollbackResult{
				Success: false,
				Message: fmt.Sprintf("no promotion session found for import %s", importID),
			}, nil
		}
		return nil, eris.Wrap(err, "importer: rollback: find session")
	}

	// Stale averages must go before the facts they were computed from.
	_, err = tx.Exec(ctx,
		`DELETE FROM national_averages a
		 USING data_points d
		 WHERE d.import_session_id = $1
		   AND a.statistic_id = d.statistic_id AND a.year = d.year`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: rollback: drop stale averages")
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM data_points WHERE import_session_id = $1`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: rollback: delete facts")
	}
	deleted := int(tag.RowsAffected())

	audit := fmt.Sprintf("rolled back by %s", touchedAt(actor, time.Now()))
	_, err = tx.Exec(ctx,
		`UPDATE csv_imports SET status = 'rolled_back', error_message = $2 WHERE id = $1`,
		importID, audit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "importer: rollback: update attempt")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "importer: rollback: commit")
	}

	r.log.Info("rolled back attempt",
		zap.String("import_id", importID),
		zap.Int64("session_id", sessionID),
		zap.Int("deleted_rows", deleted),
		zap.String("actor", actor))
	return &RollbackResult{
		Success:        true,
		RolledBackRows: deleted,
		Message:        fmt.Sprintf("removed %d published rows; %s", deleted, audit),
	}, nil
}
