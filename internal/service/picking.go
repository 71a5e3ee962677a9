package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
)

// PickingService drives the session lifecycle up to finalization: create,
// scan, correct, verify, cancel.  Every mutation routes through the session
// store's optimistic lock, and every stock movement goes through the ledger
// so the reserved-quantity invariant (session net items == ledger holds)
// survives any interleaving of concurrent pickers.
type PickingService struct {
	sessions SessionStore
	items    ItemStore
	stock    StockLedger
	audit    *Auditor
}

// NewPickingService wires the lifecycle service.
func NewPickingService(sessions SessionStore, items ItemStore, stock StockLedger, audit *Auditor) *PickingService {
	return &PickingService{sessions: sessions, items: items, stock: stock, audit: audit}
}

// CreateSession opens a new scanning session for a picker.
func (s *PickingService) CreateSession(ctx context.Context, pickerID, documentType, destination string) (*model.Session, error) {
	sess := &model.Session{
		ID:           uuid.NewString(),
		PickerID:     pickerID,
		Status:       model.StatusScanning,
		DocumentType: documentType,
		Destination:  destination,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.audit.Record(ctx, sess.ID, model.EventSessionCreated, sess.Status, pickerID,
		fmt.Sprintf(`{"documentType":%q,"destination":%q}`, documentType, destination))
	return sess, nil
}

// ScanResult reports an accepted scan back to the client.
type ScanResult struct {
	Item    model.SessionItem `json:"item"`
	Version int64             `json:"version"`
}

// ScanItem reserves stock for one scan and records the item.  When bin is
// empty the ledger picks the lowest bin code holding enough available
// stock (FIFO).  The reservation is taken before the session lock so the
// ledger's guard is the first gate; a lock failure compensates by releasing
// the reservation again.
func (s *PickingService) ScanItem(ctx context.Context, sessionID string, expectedVersion int64, sku, bin string, qty int64, actor string) (*ScanResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("scan quantity must be positive")
	}
	if bin == "" {
		picked, err := s.stock.PickBin(ctx, sku, qty)
		if err != nil {
			return nil, err
		}
		bin = picked
	}
	if err := s.stock.Reserve(ctx, sku, bin, qty); err != nil {
		return nil, err
	}

	newVersion, err := s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status != model.StatusScanning {
			return repository.ErrInvalidTransition
		}
		sess.TotalQuantity += qty
		sess.TotalLines++
		return nil
	})
	if err != nil {
		// The reservation must not outlive the rejected mutation.
		if relErr := s.stock.Release(ctx, sku, bin, qty); relErr != nil {
			s.audit.Record(ctx, sessionID, model.EventItemScanned, model.StatusError, actor,
				fmt.Sprintf(`{"error":"compensating release failed","sku":%q,"bin":%q,"qty":%d}`, sku, bin, qty))
		}
		return nil, err
	}

	item := model.SessionItem{SessionID: sessionID, SKU: sku, Bin: bin, Quantity: qty}
	if err := s.items.Create(ctx, &item); err != nil {
		// Release the hold; the cached counter drift is caught by the
		// health aggregator's reconciliation pass.
		if relErr := s.stock.Release(ctx, sku, bin, qty); relErr != nil {
			s.audit.Record(ctx, sessionID, model.EventItemScanned, model.StatusError, actor,
				fmt.Sprintf(`{"error":"item insert and release both failed","sku":%q,"bin":%q}`, sku, bin))
		}
		return nil, fmt.Errorf("record scan: %w", err)
	}

	s.audit.Record(ctx, sessionID, model.EventItemScanned, model.StatusScanning, actor,
		fmt.Sprintf(`{"sku":%q,"bin":%q,"qty":%d}`, sku, bin, qty))
	return &ScanResult{Item: item, Version: newVersion}, nil
}

// CorrectItem undoes part of what was scanned against one cell: it releases
// qty units back to available and records a compensating item row with
// negative quantity.  Scan rows themselves are never edited.  A correction
// exceeding the session's net reserved quantity for the cell is rejected.
func (s *PickingService) CorrectItem(ctx context.Context, sessionID string, expectedVersion int64, sku, bin string, qty int64, actor string) (*ScanResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("correction quantity must be positive")
	}
	net, err := s.items.NetCellQuantity(ctx, sessionID, sku, bin)
	if err != nil {
		return nil, err
	}
	if qty > net {
		return nil, repository.ErrOverRelease
	}
	if err := s.stock.Release(ctx, sku, bin, qty); err != nil {
		return nil, err
	}

	newVersion, err := s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status != model.StatusScanning {
			return repository.ErrInvalidTransition
		}
		sess.TotalQuantity -= qty
		sess.TotalLines++
		return nil
	})
	if err != nil {
		// Re-reserve what the rejected correction released.
		if resErr := s.stock.Reserve(ctx, sku, bin, qty); resErr != nil {
			s.audit.Record(ctx, sessionID, model.EventItemCorrected, model.StatusError, actor,
				fmt.Sprintf(`{"error":"compensating reserve failed","sku":%q,"bin":%q,"qty":%d}`, sku, bin, qty))
		}
		return nil, err
	}

	item := model.SessionItem{SessionID: sessionID, SKU: sku, Bin: bin, Quantity: -qty}
	if err := s.items.Create(ctx, &item); err != nil {
		return nil, fmt.Errorf("record correction: %w", err)
	}

	s.audit.Record(ctx, sessionID, model.EventItemCorrected, model.StatusScanning, actor,
		fmt.Sprintf(`{"sku":%q,"bin":%q,"qty":%d}`, sku, bin, -qty))
	return &ScanResult{Item: item, Version: newVersion}, nil
}

// BeginVerification moves a session from scanning to verifying, the state
// in which the picker reviews picked items before requesting finalization.
func (s *PickingService) BeginVerification(ctx context.Context, sessionID string, expectedVersion int64, actor string) (int64, error) {
	newVersion, err := s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status != model.StatusScanning {
			return repository.ErrInvalidTransition
		}
		sess.Status = model.StatusVerifying
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.audit.Record(ctx, sessionID, model.EventVerifyStarted, model.StatusVerifying, actor, "{}")
	return newVersion, nil
}

// Cancel rolls a session back on behalf of its own actor: the lock
// transition to cancelled goes first (the version match guarantees no
// emission is in flight), then every net reservation is released.  A
// release failure after the transition leaves reserved stock the health
// aggregator reports as orphaned; it is never silently ignored.
func (s *PickingService) Cancel(ctx context.Context, sessionID string, expectedVersion int64, actor string) (int64, error) {
	cells, err := s.items.NetCellQuantities(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	newVersion, err := s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status != model.StatusScanning && sess.Status != model.StatusVerifying {
			return repository.ErrInvalidTransition
		}
		sess.Status = model.StatusCancelled
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.stock.ReleaseCells(ctx, cells); err != nil {
		s.audit.Record(ctx, sessionID, model.EventSessionCancelled, model.StatusError, actor,
			fmt.Sprintf(`{"error":"release after cancel failed: %v"}`, err))
		return newVersion, fmt.Errorf("release reserved stock: %w", err)
	}
	s.audit.Record(ctx, sessionID, model.EventSessionCancelled, model.StatusCancelled, actor,
		fmt.Sprintf(`{"cellsReleased":%d}`, len(cells)))
	return newVersion, nil
}

// SessionDetail is a session together with its item rows, for the client UI.
type SessionDetail struct {
	Session model.Session       `json:"session"`
	Items   []model.SessionItem `json:"items"`
}

// GetSession loads a session and its items.
func (s *PickingService) GetSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Session: *sess, Items: items}, nil
}
