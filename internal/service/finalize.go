package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
)

// ErrEmissionFailed wraps a collaborator rejection or timeout.  The session
// was returned to a recoverable state; the picker may retry with a fresh
// version, within the attempt budget.
var ErrEmissionFailed = errors.New("document emission failed")

// FinalizeService implements the idempotent emission protocol.  One logical
// finalize survives client retries, process crashes and concurrent
// double-clicks without ever emitting two documents or consuming stock
// twice: the session version CAS picks exactly one winner, the unique
// idempotency key is the storage backstop, and completed attempts are
// replayed verbatim for the replay window.
type FinalizeService struct {
	sessions SessionStore
	items    ItemStore
	stock    StockLedger
	attempts AttemptStore
	cache    ReplayCache
	emitter  DocumentEmitter
	audit    *Auditor
}

// NewFinalizeService wires the emission protocol.
func NewFinalizeService(sessions SessionStore, items ItemStore, stock StockLedger, attempts AttemptStore, cache ReplayCache, emitter DocumentEmitter, audit *Auditor) *FinalizeService {
	return &FinalizeService{
		sessions: sessions,
		items:    items,
		stock:    stock,
		attempts: attempts,
		cache:    cache,
		emitter:  emitter,
		audit:    audit,
	}
}

// FinalizeResult is the outcome of a successful (or replayed) finalize.
type FinalizeResult struct {
	SessionID       string `json:"session_id"`
	Version         int64  `json:"version"`
	Replayed        bool   `json:"replayed"`
	DocumentID      string `json:"document_id"`
	DocumentURL     string `json:"document_url"`
	ResponsePayload string `json:"-"`
}

// IdempotencyKey derives the deterministic key for one logical attempt.
func IdempotencyKey(sessionID string, attemptNumber int) string {
	return fmt.Sprintf("%s:%d", sessionID, attemptNumber)
}

// Finalize drives a session through emission.
//
// The replay check runs before the state transition: a completed attempt
// inside the replay window answers immediately with the stored response,
// because a session that already completed would fail the version CAS and
// could never return its cached payload otherwise.  The lookup is
// read-only, so hoisting it cannot double-consume.
//
// For a fresh attempt the order is: CAS to emitting (exactly one winner
// among concurrent callers), budget check, pending attempt insert (unique
// key backstop), collaborator call, then either the success tail (attempt
// completed, response cached, reserved stock consumed, session completed)
// or the failure tail (attempt failed, retry count incremented, session
// back to scanning or parked in error when the budget is spent).
func (s *FinalizeService) Finalize(ctx context.Context, sessionID string, expectedVersion int64, documentType, actor string) (*FinalizeResult, error) {
	if replayed, err := s.replay(ctx, sessionID, actor); replayed != nil || err != nil {
		return replayed, err
	}

	var attemptNumber int
	var destination, effectiveType string
	versionEmitting, err := s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status != model.StatusScanning && sess.Status != model.StatusVerifying {
			return repository.ErrInvalidTransition
		}
		if documentType != "" {
			sess.DocumentType = documentType
		}
		attemptNumber = sess.RetryCount + 1
		destination = sess.Destination
		effectiveType = sess.DocumentType
		sess.Status = model.StatusEmitting
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) || errors.Is(err, repository.ErrLockTimeout) {
			// The losing side of a concurrent finalize race is audited too.
			s.audit.Record(ctx, sessionID, model.EventFinalizeLost, "", actor,
				fmt.Sprintf(`{"expectedVersion":%d,"error":%q}`, expectedVersion, err.Error()))
		}
		return nil, err
	}
	s.audit.Record(ctx, sessionID, model.EventFinalizeStarted, model.StatusEmitting, actor,
		fmt.Sprintf(`{"attempt":%d}`, attemptNumber))

	if attemptNumber > model.MaxEmissionRetries {
		return nil, s.exhaust(ctx, sessionID, versionEmitting, attemptNumber, actor)
	}

	cells, err := s.items.NetCellQuantities(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	req := EmissionRequest{
		SessionID:    sessionID,
		DocumentType: effectiveType,
		Destination:  destination,
		Items:        make([]EmissionItem, 0, len(cells)),
	}
	for _, c := range cells {
		req.Items = append(req.Items, EmissionItem{SKU: c.SKU, Bin: c.Bin, Quantity: c.Quantity})
	}
	reqPayload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	key := IdempotencyKey(sessionID, attemptNumber)
	attempt := model.EmissionAttempt{
		IdempotencyKey: key,
		SessionID:      sessionID,
		AttemptNumber:  attemptNumber,
		EmissionType:   req.DocumentType,
		RequestPayload: string(reqPayload),
	}
	if err := s.attempts.CreatePending(ctx, &attempt); err != nil {
		if errors.Is(err, repository.ErrDuplicateAttempt) {
			return s.adoptExisting(ctx, sessionID, versionEmitting, key, actor)
		}
		return nil, err
	}

	resp, emitErr := s.emitter.Emit(ctx, req)
	if emitErr != nil {
		return nil, s.failAttempt(ctx, sessionID, versionEmitting, key, attemptNumber, actor, emitErr)
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response payload: %w", err)
	}
	if err := s.attempts.MarkCompleted(ctx, key, string(respPayload)); err != nil {
		return nil, fmt.Errorf("record completed attempt: %w", err)
	}
	s.cache.Put(ctx, key, string(respPayload))

	finalVersion, err := s.completeSession(ctx, sessionID, versionEmitting, key, cells, actor)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, sessionID, model.EventEmissionCompleted, model.StatusCompleted, actor,
		fmt.Sprintf(`{"attempt":%d,"documentId":%q}`, attemptNumber, resp.DocumentID))
	return &FinalizeResult{
		SessionID:       sessionID,
		Version:         finalVersion,
		DocumentID:      resp.DocumentID,
		DocumentURL:     resp.DocumentURL,
		ResponsePayload: string(respPayload),
	}, nil
}

// replay answers a finalize whose emission already completed within the
// replay window.  When the crash happened between recording the completed
// attempt and finishing the session, the success tail is run first so the
// replayed answer is also a consistent one.
func (s *FinalizeService) replay(ctx context.Context, sessionID, actor string) (*FinalizeResult, error) {
	att, err := s.attempts.LatestCompleted(ctx, sessionID, model.EmissionReplayWindow)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, nil
		}
		return nil, err
	}

	payload, ok := s.cache.Get(ctx, att.IdempotencyKey)
	if !ok && att.ResponsePayload != nil {
		payload = *att.ResponsePayload
		s.cache.Put(ctx, att.IdempotencyKey, payload)
	}

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	version := sess.Version
	if sess.Status != model.StatusCompleted {
		version, err = s.finishFromAttempt(ctx, sess, att.IdempotencyKey, actor)
		if err != nil {
			return nil, err
		}
	}

	var resp EmissionResponse
	_ = json.Unmarshal([]byte(payload), &resp)
	s.audit.Record(ctx, sessionID, model.EventFinalizeReplayed, model.StatusCompleted, actor,
		fmt.Sprintf(`{"attempt":%d}`, att.AttemptNumber))
	return &FinalizeResult{
		SessionID:       sessionID,
		Version:         version,
		Replayed:        true,
		DocumentID:      resp.DocumentID,
		DocumentURL:     resp.DocumentURL,
		ResponsePayload: payload,
	}, nil
}

// FinishFromAttempt completes the success path for a session whose emission
// is known to have succeeded under the given idempotency key: reserved
// stock is consumed (at most once per key) and the session is moved to
// completed.  The zombie recovery path calls this when it finds a completed
// attempt behind a stuck emitting session, so a real document is never
// silently lost.
func (s *FinalizeService) FinishFromAttempt(ctx context.Context, sess *model.Session, idempotencyKey, actor string) (int64, error) {
	return s.finishFromAttempt(ctx, sess, idempotencyKey, actor)
}

func (s *FinalizeService) finishFromAttempt(ctx context.Context, sess *model.Session, idempotencyKey, actor string) (int64, error) {
	cells, err := s.items.NetCellQuantities(ctx, sess.ID)
	if err != nil {
		return 0, err
	}
	return s.completeSession(ctx, sess.ID, sess.Version, idempotencyKey, cells, actor)
}

// completeSession consumes the session's reservations and records the
// terminal completed state.  Consumption precedes the CAS, matching the
// protocol order; if the process dies in between, the session surfaces as
// stuck_emitting and recovery finishes the transition via the completed
// attempt.  Consumption is keyed by the attempt's idempotency key, so a
// re-run of this tail (replay, key-collision adoption, zombie recovery)
// finds the consumption already claimed and leaves the ledger alone —
// including reservations other sessions hold on the same cells.
func (s *FinalizeService) completeSession(ctx context.Context, sessionID string, expectedVersion int64, idempotencyKey string, cells []model.CellQuantity, actor string) (int64, error) {
	if err := s.stock.ConsumeCellsOnce(ctx, idempotencyKey, sessionID, cells); err != nil {
		return 0, fmt.Errorf("consume reserved stock: %w", err)
	}
	return s.sessions.UpdateWithLock(ctx, sessionID, expectedVersion, func(sess *model.Session) error {
		if sess.Status == model.StatusCompleted {
			return repository.ErrInvalidTransition
		}
		sess.Status = model.StatusCompleted
		sess.LastError = nil
		return nil
	})
}

// failAttempt records a failed emission and returns the session to a
// recoverable state, or parks it in error when the budget is spent.
func (s *FinalizeService) failAttempt(ctx context.Context, sessionID string, versionEmitting int64, key string, attemptNumber int, actor string, emitErr error) error {
	if err := s.attempts.MarkFailed(ctx, key, emitErr.Error()); err != nil {
		s.audit.Record(ctx, sessionID, model.EventEmissionFailed, model.StatusEmitting, actor,
			fmt.Sprintf(`{"error":"mark failed attempt: %v"}`, err))
	}
	exhausted := attemptNumber >= model.MaxEmissionRetries
	_, err := s.sessions.UpdateWithLock(ctx, sessionID, versionEmitting, func(sess *model.Session) error {
		sess.RetryCount = attemptNumber
		msg := emitErr.Error()
		sess.LastError = &msg
		if exhausted {
			sess.Status = model.StatusError
		} else {
			sess.Status = model.StatusScanning
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record emission failure: %w", err)
	}
	if exhausted {
		s.audit.Record(ctx, sessionID, model.EventRetriesExhausted, model.StatusError, actor,
			fmt.Sprintf(`{"attempt":%d,"error":%q}`, attemptNumber, emitErr.Error()))
		return fmt.Errorf("%w: %v", repository.ErrRetriesExhausted, emitErr)
	}
	s.audit.Record(ctx, sessionID, model.EventEmissionFailed, model.StatusScanning, actor,
		fmt.Sprintf(`{"attempt":%d,"error":%q}`, attemptNumber, emitErr.Error()))
	return fmt.Errorf("%w: %v", ErrEmissionFailed, emitErr)
}

// exhaust parks a session that has no attempts left.
func (s *FinalizeService) exhaust(ctx context.Context, sessionID string, versionEmitting int64, attemptNumber int, actor string) error {
	msg := fmt.Sprintf("emission attempt %d exceeds budget of %d", attemptNumber, model.MaxEmissionRetries)
	_, err := s.sessions.UpdateWithLock(ctx, sessionID, versionEmitting, func(sess *model.Session) error {
		sess.Status = model.StatusError
		sess.LastError = &msg
		return nil
	})
	if err != nil {
		return fmt.Errorf("park exhausted session: %w", err)
	}
	s.audit.Record(ctx, sessionID, model.EventRetriesExhausted, model.StatusError, actor,
		fmt.Sprintf(`{"attempt":%d}`, attemptNumber))
	return repository.ErrRetriesExhausted
}

// adoptExisting resolves an idempotency key collision: the stored attempt
// is canonical and its outcome is adopted instead of calling the
// collaborator a second time.
func (s *FinalizeService) adoptExisting(ctx context.Context, sessionID string, versionEmitting int64, key, actor string) (*FinalizeResult, error) {
	att, err := s.attempts.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	switch att.Status {
	case model.AttemptCompleted:
		payload := ""
		if att.ResponsePayload != nil {
			payload = *att.ResponsePayload
		}
		cells, err := s.items.NetCellQuantities(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		version, err := s.completeSession(ctx, sessionID, versionEmitting, key, cells, actor)
		if err != nil {
			return nil, err
		}
		var resp EmissionResponse
		_ = json.Unmarshal([]byte(payload), &resp)
		s.audit.Record(ctx, sessionID, model.EventFinalizeReplayed, model.StatusCompleted, actor,
			fmt.Sprintf(`{"attempt":%d,"adopted":true}`, att.AttemptNumber))
		return &FinalizeResult{
			SessionID:       sessionID,
			Version:         version,
			Replayed:        true,
			DocumentID:      resp.DocumentID,
			DocumentURL:     resp.DocumentURL,
			ResponsePayload: payload,
		}, nil
	case model.AttemptFailed:
		detail := "attempt already failed"
		if att.ErrorMessage != nil {
			detail = *att.ErrorMessage
		}
		return nil, s.failAttempt(ctx, sessionID, versionEmitting, key, att.AttemptNumber, actor,
			fmt.Errorf("canonical attempt failed: %s", detail))
	default:
		// A pending twin means another process is mid-call right now.  Do
		// not guess its outcome; surface the collision.
		s.audit.Record(ctx, sessionID, model.EventFinalizeLost, model.StatusEmitting, actor,
			fmt.Sprintf(`{"attempt":%d,"pendingCollision":true}`, att.AttemptNumber))
		return nil, repository.ErrDuplicateAttempt
	}
}
