package model

import "time"

// Session status values.  Transitions between them are only permitted
// through the session repository's optimistic lock protocol.
const (
	StatusScanning  = "scanning"  // picker is actively scanning products
	StatusVerifying = "verifying" // picker is reviewing picked items before finalize
	StatusEmitting  = "emitting"  // document emission is in flight
	StatusCompleted = "completed" // document emitted and stock consumed
	StatusCancelled = "cancelled" // session rolled back, reservations released
	StatusError     = "error"     // terminal failure, operator action required
)

// Session records one picker's end-to-end scan-to-document workflow
// instance.  The version counter increments on every accepted mutation and
// is the basis of the optimistic lock protocol; a session's total reserved
// quantity always equals the net sum of its items' quantities until
// consumption or release.
//
// Fields:
//
//	ID             – uuid primary key.
//	PickerID       – actor who owns the session.
//	Status         – lifecycle state (see the Status* constants).
//	Version        – optimistic lock counter, never decreases.
//	DocumentType   – kind of document emitted at finalization (e.g. "remission").
//	Destination    – destination warehouse or customer reference.
//	RetryCount     – number of emission attempts consumed so far.
//	LastError      – last emission or recovery failure, if any.
//	TotalQuantity  – cached net quantity across items, reconciled by health checks.
//	TotalLines     – cached item row count, reconciled by health checks.
//	CreatedAt      – creation timestamp.
//	LastActivityAt – last accepted mutation; drives zombie classification.
type Session struct {
	ID             string    // sessions.id
	PickerID       string    // sessions.picker_id
	Status         string    // sessions.status
	Version        int64     // sessions.version
	DocumentType   string    // sessions.document_type
	Destination    string    // sessions.destination
	RetryCount     int       // sessions.retry_count
	LastError      *string   // sessions.last_error (nullable)
	TotalQuantity  int64     // sessions.total_quantity
	TotalLines     int       // sessions.total_lines
	CreatedAt      time.Time // sessions.created_at
	LastActivityAt time.Time // sessions.last_activity_at
}
