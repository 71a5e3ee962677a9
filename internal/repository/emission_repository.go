package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// EmissionRepo provides data access to emission_attempts.  The
// idempotency_key column carries a unique constraint: an insert colliding
// with an existing key fails with ErrDuplicateAttempt, which is the storage
// backstop against double document submission even when two processes race
// past the lock protocol.  Completed attempts are immutable.
type EmissionRepo struct {
	db *sql.DB
}

// NewEmissionRepo returns a new EmissionRepo bound to the given database.
func NewEmissionRepo(db *sql.DB) *EmissionRepo { return &EmissionRepo{db: db} }

// CreatePending inserts a pending attempt row.  On an idempotency key
// collision it returns ErrDuplicateAttempt; the caller must load the
// existing row and adopt its outcome.
func (r *EmissionRepo) CreatePending(ctx context.Context, a *model.EmissionAttempt) error {
	const q = `INSERT INTO emission_attempts
               (idempotency_key, session_id, attempt_number, emission_type,
                status, request_payload)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		a.IdempotencyKey, a.SessionID, a.AttemptNumber, a.EmissionType,
		model.AttemptPending, a.RequestPayload,
	)
	if err != nil {
		var my *mysql.MySQLError
		if errors.As(err, &my) && my.Number == mysqlDuplicateEntry {
			return ErrDuplicateAttempt
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.Status = model.AttemptPending
	return nil
}

// MarkCompleted records a successful emission: the collaborator's response
// is stored verbatim and the attempt becomes permanent.  The status guard
// keeps a stale writer from rewriting an already terminal attempt.
func (r *EmissionRepo) MarkCompleted(ctx context.Context, idempotencyKey, responsePayload string) error {
	const q = `UPDATE emission_attempts
               SET status = ?, response_payload = ?, completed_at = UTC_TIMESTAMP()
               WHERE idempotency_key = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, model.AttemptCompleted, responsePayload, idempotencyKey, model.AttemptPending)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// MarkFailed records a failed emission with its error detail.
func (r *EmissionRepo) MarkFailed(ctx context.Context, idempotencyKey, errorMessage string) error {
	const q = `UPDATE emission_attempts
               SET status = ?, error_message = ?, completed_at = UTC_TIMESTAMP()
               WHERE idempotency_key = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, model.AttemptFailed, errorMessage, idempotencyKey, model.AttemptPending)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

const selectAttempt = `SELECT id, idempotency_key, session_id, attempt_number,
                              emission_type, status, request_payload,
                              response_payload, error_message, created_at,
                              completed_at
                       FROM emission_attempts`

// GetByKey returns the attempt stored under an idempotency key, or
// ErrAttemptNotFound.
func (r *EmissionRepo) GetByKey(ctx context.Context, idempotencyKey string) (*model.EmissionAttempt, error) {
	row := r.db.QueryRowContext(ctx, selectAttempt+` WHERE idempotency_key = ?`, idempotencyKey)
	return scanAttempt(row)
}

// LatestCompleted returns the most recent completed attempt for a session
// whose completion falls inside the window, or ErrAttemptNotFound.  This is
// the replay-safety lookup: within the window the stored response must be
// returned verbatim instead of contacting the collaborator again.
func (r *EmissionRepo) LatestCompleted(ctx context.Context, sessionID string, window time.Duration) (*model.EmissionAttempt, error) {
	cutoff := time.Now().UTC().Add(-window)
	row := r.db.QueryRowContext(ctx,
		selectAttempt+` WHERE session_id = ? AND status = ? AND completed_at >= ?
                        ORDER BY attempt_number DESC LIMIT 1`,
		sessionID, model.AttemptCompleted, cutoff,
	)
	return scanAttempt(row)
}

// AnyCompleted returns the most recent completed attempt regardless of
// window.  The zombie recovery path uses it to detect emissions that
// actually succeeded before the picker's process died.
func (r *EmissionRepo) AnyCompleted(ctx context.Context, sessionID string) (*model.EmissionAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		selectAttempt+` WHERE session_id = ? AND status = ?
                        ORDER BY attempt_number DESC LIMIT 1`,
		sessionID, model.AttemptCompleted,
	)
	return scanAttempt(row)
}

// LatestPending returns the newest pending attempt of a session, or
// ErrAttemptNotFound.  Recovery uses its age to decide whether an outcome
// can be safely inferred.
func (r *EmissionRepo) LatestPending(ctx context.Context, sessionID string) (*model.EmissionAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		selectAttempt+` WHERE session_id = ? AND status = ?
                        ORDER BY attempt_number DESC LIMIT 1`,
		sessionID, model.AttemptPending,
	)
	return scanAttempt(row)
}

// FailureRateSince returns (failed, total) attempt counts with a terminal
// status recorded after the cutoff.  Pending attempts are excluded: their
// outcome is not yet known.
func (r *EmissionRepo) FailureRateSince(ctx context.Context, cutoff time.Time) (failed, total int, err error) {
	const q = `SELECT
                 COALESCE(SUM(status = 'failed'), 0),
                 COUNT(*)
               FROM emission_attempts
               WHERE status IN ('completed', 'failed') AND completed_at >= ?`
	err = r.db.QueryRowContext(ctx, q, cutoff.UTC()).Scan(&failed, &total)
	return failed, total, err
}

func scanAttempt(row *sql.Row) (*model.EmissionAttempt, error) {
	var a model.EmissionAttempt
	var response, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.IdempotencyKey, &a.SessionID, &a.AttemptNumber,
		&a.EmissionType, &a.Status, &a.RequestPayload,
		&response, &errMsg, &a.CreatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}
	if response.Valid {
		v := response.String
		a.ResponsePayload = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		a.ErrorMessage = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}
