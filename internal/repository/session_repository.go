package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// MySQL error numbers the lock protocol translates into sentinels.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlDuplicateEntry  = 1062
)

// SessionRepo provides data access to picking sessions and implements the
// optimistic lock protocol.  Every state-changing call in the system
// (scan, correct, verify, finalize, cancel, recover) must go through
// UpdateWithLock; direct writes to status or version are forbidden.  All
// timestamp fields are stored in UTC.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the given database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Create inserts a new session in the scanning state with version 0 and
// populates the generated timestamps on the provided record.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	const q = `INSERT INTO sessions
               (id, picker_id, status, version, document_type, destination,
                retry_count, total_quantity, total_lines)
               VALUES (?, ?, ?, 0, ?, ?, 0, 0, 0)`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.PickerID, s.Status, s.DocumentType, s.Destination); err != nil {
		return err
	}
	return r.scanOne(r.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, s.ID), s)
}

const selectSession = `SELECT id, picker_id, status, version, document_type,
                              destination, retry_count, last_error,
                              total_quantity, total_lines, created_at,
                              last_activity_at
                       FROM sessions`

// GetByID returns a session by id, or ErrSessionNotFound.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := r.scanOne(r.db.QueryRowContext(ctx, selectSession+` WHERE id = ?`, id), &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *SessionRepo) scanOne(row rowScanner, s *model.Session) error {
	var lastErr sql.NullString
	err := row.Scan(
		&s.ID, &s.PickerID, &s.Status, &s.Version, &s.DocumentType,
		&s.Destination, &s.RetryCount, &lastErr,
		&s.TotalQuantity, &s.TotalLines, &s.CreatedAt, &s.LastActivityAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if lastErr.Valid {
		le := lastErr.String
		s.LastError = &le
	}
	return nil
}

// UpdateWithLock performs the compare-and-swap update every mutation routes
// through.  It reads the session under a row lock (the wait is bounded by
// the connection-level innodb_lock_wait_timeout set in database.Open),
// compares the stored version with expectedVersion, applies
// the mutation, increments the version, refreshes last_activity_at and
// writes atomically.  On success it returns the new version.
//
// Failure modes: ErrVersionMismatch when the caller's version is stale (no
// partial write occurs), ErrLockTimeout when a concurrent writer held the
// row beyond the bounded wait, ErrSessionNotFound for unknown ids, and any
// error returned by the mutation itself (which aborts the transaction).
func (r *SessionRepo) UpdateWithLock(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Session) error) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var s model.Session
	err = r.scanOne(tx.QueryRowContext(ctx, selectSession+` WHERE id = ? FOR UPDATE`, id), &s)
	if err != nil {
		return 0, translateLockErr(err)
	}
	if s.Version != expectedVersion {
		return 0, ErrVersionMismatch
	}
	if err := mutate(&s); err != nil {
		return 0, err
	}

	const upd = `UPDATE sessions
                 SET status = ?, document_type = ?, destination = ?,
                     retry_count = ?, last_error = ?, total_quantity = ?,
                     total_lines = ?, version = version + 1,
                     last_activity_at = UTC_TIMESTAMP()
                 WHERE id = ? AND version = ?`
	var lastErr interface{}
	if s.LastError != nil {
		lastErr = *s.LastError
	}
	res, err := tx.ExecContext(ctx, upd,
		s.Status, s.DocumentType, s.Destination,
		s.RetryCount, lastErr, s.TotalQuantity,
		s.TotalLines, id, expectedVersion,
	)
	if err != nil {
		return 0, translateLockErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		// The row lock makes this unreachable in practice, but the guard
		// stays: the version predicate is the protocol's source of truth.
		return 0, ErrVersionMismatch
	}
	if err := tx.Commit(); err != nil {
		return 0, translateLockErr(err)
	}
	committed = true
	return expectedVersion + 1, nil
}

// translateLockErr maps MySQL contention errors onto the protocol
// sentinels so callers can errors.Is them.
func translateLockErr(err error) error {
	var my *mysql.MySQLError
	if errors.As(err, &my) {
		switch my.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return ErrLockTimeout
		}
	}
	return err
}

// ListIdleSince returns sessions in the given status whose last activity is
// strictly older than the cutoff, oldest first.  The zombie detector and
// the health aggregator are the only callers.
func (r *SessionRepo) ListIdleSince(ctx context.Context, status string, cutoff time.Time) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		selectSession+` WHERE status = ? AND last_activity_at < ? ORDER BY last_activity_at ASC`,
		status, cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		var lastErr sql.NullString
		if err := rows.Scan(
			&s.ID, &s.PickerID, &s.Status, &s.Version, &s.DocumentType,
			&s.Destination, &s.RetryCount, &lastErr,
			&s.TotalQuantity, &s.TotalLines, &s.CreatedAt, &s.LastActivityAt,
		); err != nil {
			return nil, err
		}
		if lastErr.Valid {
			le := lastErr.String
			s.LastError = &le
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CountIdleSince returns how many sessions sit in the given status with
// last activity older than the cutoff.
func (r *SessionRepo) CountIdleSince(ctx context.Context, status string, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = ? AND last_activity_at < ?`,
		status, cutoff.UTC(),
	).Scan(&n)
	return n, err
}

// ListActive returns sessions in non-terminal states, for the counter
// reconciliation pass of the health aggregator.
func (r *SessionRepo) ListActive(ctx context.Context) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		selectSession+` WHERE status IN (?, ?, ?) ORDER BY created_at ASC`,
		model.StatusScanning, model.StatusVerifying, model.StatusEmitting,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions := make([]model.Session, 0)
	for rows.Next() {
		var s model.Session
		var lastErr sql.NullString
		if err := rows.Scan(
			&s.ID, &s.PickerID, &s.Status, &s.Version, &s.DocumentType,
			&s.Destination, &s.RetryCount, &lastErr,
			&s.TotalQuantity, &s.TotalLines, &s.CreatedAt, &s.LastActivityAt,
		); err != nil {
			return nil, err
		}
		if lastErr.Valid {
			le := lastErr.String
			s.LastError = &le
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
