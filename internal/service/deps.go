// Package service implements the picking engine: the session lifecycle, the
// idempotent emission protocol, the zombie sweep and the health aggregator.
// Services coordinate exclusively through the backing store's atomic
// operations (the session version CAS and the ledger's per-cell arithmetic);
// no in-process lock guards any cross-request invariant, because many
// processes run this code against the same store.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// SessionStore is the slice of the session repository the services consume.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	UpdateWithLock(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Session) error) (int64, error)
	ListIdleSince(ctx context.Context, status string, cutoff time.Time) ([]model.Session, error)
	CountIdleSince(ctx context.Context, status string, cutoff time.Time) (int, error)
	ListActive(ctx context.Context) ([]model.Session, error)
}

// ItemStore is the slice of the item repository the services consume.
type ItemStore interface {
	Create(ctx context.Context, it *model.SessionItem) error
	ListBySession(ctx context.Context, sessionID string) ([]model.SessionItem, error)
	NetCellQuantities(ctx context.Context, sessionID string) ([]model.CellQuantity, error)
	NetCellQuantity(ctx context.Context, sessionID, sku, bin string) (int64, error)
	Totals(ctx context.Context, sessionID string) (int64, int, error)
}

// StockLedger is the slice of the stock repository the services consume.
type StockLedger interface {
	Reserve(ctx context.Context, sku, bin string, qty int64) error
	Release(ctx context.Context, sku, bin string, qty int64) error
	ConsumeCellsOnce(ctx context.Context, idempotencyKey, sessionID string, cells []model.CellQuantity) error
	ReleaseCells(ctx context.Context, cells []model.CellQuantity) error
	PickBin(ctx context.Context, sku string, qty int64) (string, error)
	OrphanedReserved(ctx context.Context) (int64, error)
}

// AttemptStore is the slice of the emission repository the services consume.
type AttemptStore interface {
	CreatePending(ctx context.Context, a *model.EmissionAttempt) error
	MarkCompleted(ctx context.Context, idempotencyKey, responsePayload string) error
	MarkFailed(ctx context.Context, idempotencyKey, errorMessage string) error
	GetByKey(ctx context.Context, idempotencyKey string) (*model.EmissionAttempt, error)
	LatestCompleted(ctx context.Context, sessionID string, window time.Duration) (*model.EmissionAttempt, error)
	AnyCompleted(ctx context.Context, sessionID string) (*model.EmissionAttempt, error)
	LatestPending(ctx context.Context, sessionID string) (*model.EmissionAttempt, error)
	FailureRateSince(ctx context.Context, cutoff time.Time) (failed, total int, err error)
}

// ReplayCache caches completed emission responses for the replay window.
// Implementations may be lossy; the attempt store stays authoritative.
type ReplayCache interface {
	Get(ctx context.Context, idempotencyKey string) (string, bool)
	Put(ctx context.Context, idempotencyKey, responsePayload string)
}

// AuditStore is the slice of the audit repository the auditor consumes.
type AuditStore interface {
	Append(ctx context.Context, ev *model.AuditEvent) error
}

// DocumentEmitter invokes the external document emission collaborator.
// Implementations must treat any non-2xx response or timeout as failure and
// never assume partial success.
type DocumentEmitter interface {
	Emit(ctx context.Context, req EmissionRequest) (*EmissionResponse, error)
}

// TrailPublisher streams audit events to operators, best-effort.
type TrailPublisher interface {
	Publish(ctx context.Context, ev model.AuditEvent) error
}
