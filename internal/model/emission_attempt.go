package model

import "time"

// Emission attempt status values.
const (
	AttemptPending   = "pending"   // collaborator call in flight or outcome not yet recorded
	AttemptCompleted = "completed" // collaborator acknowledged; response cached and immutable
	AttemptFailed    = "failed"    // collaborator rejected or timed out
)

// MaxEmissionRetries bounds how many emission attempts a session may consume
// before it is parked in the error state for operator intervention.
const MaxEmissionRetries = 3

// EmissionReplayWindow is how long a completed attempt's response is
// returned verbatim on replay instead of contacting the collaborator again.
const EmissionReplayWindow = 24 * time.Hour

// EmissionAttempt records one logical attempt to emit a transfer/remission
// document for a session.  The idempotency key is unique at the storage
// layer, which is the backstop against double submission even if the lock
// protocol is bypassed.  A completed attempt is permanent.
//
// Fields:
//
//	ID             – primary key identifier.
//	IdempotencyKey – deterministic key derived from session id and attempt number.
//	SessionID      – session the attempt belongs to.
//	AttemptNumber  – 1..MaxEmissionRetries.
//	EmissionType   – document type requested from the collaborator.
//	Status         – pending, completed or failed.
//	RequestPayload – JSON sent to the collaborator.
//	ResponsePayload– JSON returned on success (nullable).
//	ErrorMessage   – failure detail (nullable).
//	CreatedAt      – when the attempt row was inserted.
//	CompletedAt    – when a terminal status was recorded (nullable).
type EmissionAttempt struct {
	ID              uint64     // emission_attempts.id
	IdempotencyKey  string     // emission_attempts.idempotency_key
	SessionID       string     // emission_attempts.session_id
	AttemptNumber   int        // emission_attempts.attempt_number
	EmissionType    string     // emission_attempts.emission_type
	Status          string     // emission_attempts.status
	RequestPayload  string     // emission_attempts.request_payload
	ResponsePayload *string    // emission_attempts.response_payload (nullable)
	ErrorMessage    *string    // emission_attempts.error_message (nullable)
	CreatedAt       time.Time  // emission_attempts.created_at
	CompletedAt     *time.Time // emission_attempts.completed_at (nullable)
}
