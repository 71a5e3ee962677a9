package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// AuditRepo appends to the audit_events trail.  Rows are never updated or
// deleted.  Best-effort semantics (an audit failure must not roll back the
// business mutation it describes) are enforced one layer up, in the
// services; the repository itself just reports errors.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns a new AuditRepo bound to the given database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one audit event and populates its generated id.
func (r *AuditRepo) Append(ctx context.Context, ev *model.AuditEvent) error {
	const q = `INSERT INTO audit_events (session_id, event_type, status, actor, details)
               VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, ev.SessionID, ev.EventType, ev.Status, ev.Actor, ev.Details)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = uint64(id)
	return nil
}

// ListBySession returns a session's events in insertion order, for the
// operator console.
func (r *AuditRepo) ListBySession(ctx context.Context, sessionID string) ([]model.AuditEvent, error) {
	const q = `SELECT id, session_id, event_type, status, actor, details, created_at
               FROM audit_events WHERE session_id = ?
               ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]model.AuditEvent, 0)
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Status, &ev.Actor, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountSince returns how many events of a type were recorded after the
// cutoff, for health thresholds.
func (r *AuditRepo) CountSince(ctx context.Context, eventType string, cutoff time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE event_type = ? AND created_at >= ?`,
		eventType, cutoff.UTC(),
	).Scan(&n)
	return n, err
}
