package model

import "time"

// Audit event types emitted by the engine.  One event is written per
// significant transition or failure; events are never updated or deleted.
const (
	EventSessionCreated    = "session_created"
	EventItemScanned       = "item_scanned"
	EventItemCorrected     = "item_corrected"
	EventVerifyStarted     = "verification_started"
	EventFinalizeStarted   = "finalize_started"
	EventFinalizeReplayed  = "finalize_replayed"
	EventFinalizeLost      = "finalize_lost_race"
	EventEmissionCompleted = "emission_completed"
	EventEmissionFailed    = "emission_failed"
	EventRetriesExhausted  = "retries_exhausted"
	EventSessionCancelled  = "session_cancelled"
	EventZombieDetected    = "zombie_detected"
	EventZombieRecovered   = "zombie_recovered"
	EventZombieAmbiguous   = "zombie_requires_attention"
	EventSweepSummary      = "sweep_summary"
	EventHealthSummary     = "health_summary"
)

// AuditEvent is one row of the append-only event trail consumed by health
// checks and operators.
//
// Fields:
//
//	ID        – primary key identifier.
//	SessionID – session the event concerns (empty for global summaries).
//	EventType – one of the Event* constants.
//	Status    – session or attempt status at the time of the event.
//	Actor     – picker id or system actor ("zombie-sweep", "health-check").
//	Details   – free-form JSON or text detail.
//	CreatedAt – when the event was recorded.
type AuditEvent struct {
	ID        uint64    // audit_events.id
	SessionID string    // audit_events.session_id
	EventType string    // audit_events.event_type
	Status    string    // audit_events.status
	Actor     string    // audit_events.actor
	Details   string    // audit_events.details
	CreatedAt time.Time // audit_events.created_at
}
