// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// finalize protocol and the recovery sweep to distinguish between failure
// scenarios with errors.Is. The taxonomy deliberately separates caller
// staleness (ErrVersionMismatch), storage contention (ErrLockTimeout) and
// ledger invariant violations (ErrInsufficientStock, ErrOverConsumption),
// because each demands a different reaction from the caller.
package repository

import "errors"

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// ErrCellNotFound is returned when a (sku, bin) stock cell does not exist.
var ErrCellNotFound = errors.New("stock cell not found")

// ErrVersionMismatch is returned by the optimistic lock protocol when the
// caller's expected version is stale. The caller must re-read before
// retrying; blind retries are forbidden.
var ErrVersionMismatch = errors.New("session version mismatch")

// ErrLockTimeout is returned when a concurrent writer held the session row
// beyond the bounded wait. Callers may retry with backoff.
var ErrLockTimeout = errors.New("session lock timeout")

// ErrInvalidTransition is returned when a mutation would move a session
// between states the lifecycle does not permit (e.g. finalizing a
// cancelled session).
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInsufficientStock is returned when a reservation would drive a cell's
// available quantity negative.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrOverConsumption is returned when a consume would exceed the cell's
// reserved quantity.
var ErrOverConsumption = errors.New("consume exceeds reserved stock")

// ErrOverRelease is returned when a release would exceed the cell's
// reserved quantity.
var ErrOverRelease = errors.New("release exceeds reserved stock")

// ErrConflictingReservations is returned when an admin stock reset targets
// a cell that still carries open reservations.
var ErrConflictingReservations = errors.New("cell has open reservations")

// ErrDuplicateAttempt is returned when an emission attempt insert collides
// with an existing idempotency key. The existing row is the canonical
// attempt and its outcome must be adopted.
var ErrDuplicateAttempt = errors.New("duplicate emission attempt")

// ErrAttemptNotFound is returned when no emission attempt matches a lookup.
var ErrAttemptNotFound = errors.New("emission attempt not found")

// ErrRetriesExhausted is returned when a session has consumed all emission
// attempts. The session is parked in the error state and requires
// operator intervention.
var ErrRetriesExhausted = errors.New("emission retries exhausted")
