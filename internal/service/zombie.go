package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
)

// Zombie classifications.
const (
	ClassAbandonedScanning     = "abandoned_scanning"
	ClassStuckEmitting         = "stuck_emitting"
	ClassAbandonedVerification = "abandoned_verification"
)

// Recovery actions reported by RecoverZombieSession.
const (
	ActionCancelled = "cancelled"
	ActionCompleted = "completed"
	ActionNone      = "none"
)

// sweepActor attributes recovery mutations in the audit trail.
const sweepActor = "zombie-sweep"

// ZombieThresholds are the status-specific idle durations after which a
// session counts as abandoned by its client.
type ZombieThresholds struct {
	Scanning   time.Duration // scanning idle beyond this is abandoned
	Emitting   time.Duration // emitting idle beyond this likely crashed mid-call
	Verifying  time.Duration // verifying idle beyond this is abandoned
	HardCancel time.Duration // any inactivity beyond this permits rollback regardless of class
}

// DefaultThresholds are the production sweep settings.
func DefaultThresholds() ZombieThresholds {
	return ZombieThresholds{
		Scanning:   15 * time.Minute,
		Emitting:   5 * time.Minute,
		Verifying:  30 * time.Minute,
		HardCancel: 3 * time.Hour,
	}
}

// ZombieCandidate is one stalled session with its classification.
type ZombieCandidate struct {
	Session        model.Session `json:"session"`
	Classification string        `json:"classification"`
	InactiveFor    time.Duration `json:"inactive_for"`
}

// RecoveryResult reports the outcome of recovering one session.
type RecoveryResult struct {
	SessionID         string `json:"session_id"`
	Success           bool   `json:"success"`
	Action            string `json:"action"`
	RequiresAttention bool   `json:"requires_attention,omitempty"`
	CellsReleased     int    `json:"cells_released,omitempty"`
}

// SweepStats aggregates one batch run for observability.
type SweepStats struct {
	StartedAt         time.Time `json:"started_at"`
	Detected          int       `json:"detected"`
	Cancelled         int       `json:"cancelled"`
	Completed         int       `json:"completed"`
	RequiresAttention int       `json:"requires_attention"`
	Failed            int       `json:"failed"`
}

// ZombieService classifies stalled sessions and drives them to a terminal,
// consistent state using the same lock and ledger primitives as the live
// flow.  It is the only actor permitted to cancel a session it does not
// own.
type ZombieService struct {
	sessions   SessionStore
	items      ItemStore
	stock      StockLedger
	attempts   AttemptStore
	finalize   *FinalizeService
	audit      *Auditor
	thresholds ZombieThresholds
	// ambiguityWindow is how young a pending attempt may be before
	// recovery refuses to infer its outcome.
	ambiguityWindow time.Duration
	now             func() time.Time
}

// NewZombieService wires the detector and recovery engine.
func NewZombieService(sessions SessionStore, items ItemStore, stock StockLedger, attempts AttemptStore, finalize *FinalizeService, audit *Auditor, thresholds ZombieThresholds, ambiguityWindow time.Duration) *ZombieService {
	return &ZombieService{
		sessions:        sessions,
		items:           items,
		stock:           stock,
		attempts:        attempts,
		finalize:        finalize,
		audit:           audit,
		thresholds:      thresholds,
		ambiguityWindow: ambiguityWindow,
		now:             time.Now,
	}
}

// DetectZombies returns every session whose inactivity exceeds its
// status-specific threshold, with classification and idle duration.
func (s *ZombieService) DetectZombies(ctx context.Context) ([]ZombieCandidate, error) {
	now := s.now().UTC()
	rules := []struct {
		status string
		idle   time.Duration
		class  string
	}{
		{model.StatusScanning, s.thresholds.Scanning, ClassAbandonedScanning},
		{model.StatusEmitting, s.thresholds.Emitting, ClassStuckEmitting},
		{model.StatusVerifying, s.thresholds.Verifying, ClassAbandonedVerification},
	}
	candidates := make([]ZombieCandidate, 0)
	for _, rule := range rules {
		sessions, err := s.sessions.ListIdleSince(ctx, rule.status, now.Add(-rule.idle))
		if err != nil {
			return nil, fmt.Errorf("detect %s: %w", rule.class, err)
		}
		for _, sess := range sessions {
			candidates = append(candidates, ZombieCandidate{
				Session:        sess,
				Classification: rule.class,
				InactiveFor:    now.Sub(sess.LastActivityAt),
			})
		}
	}
	return candidates, nil
}

// RecoverZombieSession drives one stalled session to a terminal state.
//
// Safe-rollback cases (a scanning or verifying session idle past its
// classification threshold, inactivity beyond the hard-cancel horizon, or
// an explicit forceCancel) release everything the session reserved and
// cancel it.  A scanning or verifying session still inside its threshold
// is left untouched and flagged for attention so a manual recovery cannot
// cancel a picker who is actively working.  A stuck_emitting
// session is first checked for a completed emission attempt — the external
// call may have succeeded before the process died, and cancelling would
// silently lose a real document — in which case the success path is
// finished instead.  When the outcome cannot be safely inferred (a pending
// attempt younger than the ambiguity window), nothing is mutated and the
// session is flagged for operator review.
func (s *ZombieService) RecoverZombieSession(ctx context.Context, sessionID string, forceCancel bool) (*RecoveryResult, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case model.StatusCompleted, model.StatusCancelled:
		return &RecoveryResult{SessionID: sessionID, Success: true, Action: ActionNone}, nil
	}

	idle := s.now().UTC().Sub(sess.LastActivityAt)
	safeRollback := forceCancel || idle > s.thresholds.HardCancel
	switch sess.Status {
	case model.StatusScanning, model.StatusVerifying:
		// Rollback is only safe once the session has actually crossed its
		// idle threshold.  The version CAS fences concurrent mutation, not
		// a picker who is simply between scans, so a manual recovery of an
		// actively driven session must not cancel it without forceCancel.
		threshold := s.thresholds.Scanning
		if sess.Status == model.StatusVerifying {
			threshold = s.thresholds.Verifying
		}
		if !safeRollback && idle <= threshold {
			s.audit.Record(ctx, sessionID, model.EventZombieAmbiguous, sess.Status, sweepActor,
				fmt.Sprintf(`{"reason":"session still active","idle":%q}`, idle))
			return &RecoveryResult{SessionID: sessionID, Success: true, RequiresAttention: true, Action: ActionNone}, nil
		}
		safeRollback = true
	case model.StatusError:
		// Parked sessions still hold reservations; unwinding them is an
		// operator decision, not an automatic one.
		if !safeRollback {
			s.audit.Record(ctx, sessionID, model.EventZombieAmbiguous, sess.Status, sweepActor,
				`{"reason":"error state requires forceCancel"}`)
			return &RecoveryResult{SessionID: sessionID, Success: true, RequiresAttention: true, Action: ActionNone}, nil
		}
	case model.StatusEmitting:
		att, err := s.attempts.AnyCompleted(ctx, sessionID)
		if err != nil && !errors.Is(err, repository.ErrAttemptNotFound) {
			return nil, err
		}
		if att != nil {
			version, err := s.finalize.FinishFromAttempt(ctx, sess, att.IdempotencyKey, sweepActor)
			if err != nil {
				return nil, fmt.Errorf("finish stuck emission: %w", err)
			}
			s.audit.Record(ctx, sessionID, model.EventZombieRecovered, model.StatusCompleted, sweepActor,
				fmt.Sprintf(`{"action":%q,"attempt":%d,"version":%d}`, ActionCompleted, att.AttemptNumber, version))
			return &RecoveryResult{SessionID: sessionID, Success: true, Action: ActionCompleted}, nil
		}
		if !safeRollback {
			if pending, err := s.attempts.LatestPending(ctx, sessionID); err == nil {
				if s.now().UTC().Sub(pending.CreatedAt) < s.ambiguityWindow {
					// The call may still be in flight somewhere. Never guess.
					s.audit.Record(ctx, sessionID, model.EventZombieAmbiguous, sess.Status, sweepActor,
						fmt.Sprintf(`{"attempt":%d,"pendingAge":%q}`, pending.AttemptNumber, s.now().UTC().Sub(pending.CreatedAt)))
					return &RecoveryResult{SessionID: sessionID, Success: true, RequiresAttention: true, Action: ActionNone}, nil
				}
			} else if !errors.Is(err, repository.ErrAttemptNotFound) {
				return nil, err
			}
		}
		safeRollback = true
	}

	if !safeRollback {
		s.audit.Record(ctx, sessionID, model.EventZombieAmbiguous, sess.Status, sweepActor, "{}")
		return &RecoveryResult{SessionID: sessionID, Success: true, RequiresAttention: true, Action: ActionNone}, nil
	}

	cells, err := s.items.NetCellQuantities(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// Cancel first: the version CAS fences out a client that woke up
	// mid-recovery.  Only after the session is terminally cancelled is its
	// stock released; the reverse order could strip reservations from a
	// session that just resumed scanning.
	if _, err := s.sessions.UpdateWithLock(ctx, sessionID, sess.Version, func(m *model.Session) error {
		m.Status = model.StatusCancelled
		return nil
	}); err != nil {
		if errors.Is(err, repository.ErrVersionMismatch) {
			// The session moved while we looked at it: it is being driven
			// again and is no longer a zombie.
			return &RecoveryResult{SessionID: sessionID, Success: true, Action: ActionNone}, nil
		}
		return nil, err
	}
	if err := s.stock.ReleaseCells(ctx, cells); err != nil {
		s.audit.Record(ctx, sessionID, model.EventZombieRecovered, model.StatusError, sweepActor,
			fmt.Sprintf(`{"action":%q,"error":"release failed: %v"}`, ActionCancelled, err))
		return nil, fmt.Errorf("release reserved stock: %w", err)
	}
	s.audit.Record(ctx, sessionID, model.EventZombieRecovered, model.StatusCancelled, sweepActor,
		fmt.Sprintf(`{"action":%q,"cellsReleased":%d,"idle":%q}`, ActionCancelled, len(cells), idle))
	return &RecoveryResult{SessionID: sessionID, Success: true, Action: ActionCancelled, CellsReleased: len(cells)}, nil
}

// RunSweep detects all zombies and recovers each candidate independently:
// one failure never blocks the rest.  Statistics are aggregated and written
// as a summary audit event for observability.
func (s *ZombieService) RunSweep(ctx context.Context) (*SweepStats, error) {
	stats := &SweepStats{StartedAt: s.now().UTC()}
	candidates, err := s.DetectZombies(ctx)
	if err != nil {
		return nil, err
	}
	stats.Detected = len(candidates)
	for _, c := range candidates {
		s.audit.Record(ctx, c.Session.ID, model.EventZombieDetected, c.Session.Status, sweepActor,
			fmt.Sprintf(`{"classification":%q,"inactiveFor":%q}`, c.Classification, c.InactiveFor))
		res, err := s.RecoverZombieSession(ctx, c.Session.ID, false)
		if err != nil {
			stats.Failed++
			log.Printf("zombie-sweep: recover %s failed: %v", c.Session.ID, err)
			continue
		}
		switch {
		case res.RequiresAttention:
			stats.RequiresAttention++
		case res.Action == ActionCancelled:
			stats.Cancelled++
		case res.Action == ActionCompleted:
			stats.Completed++
		}
	}
	s.audit.Record(ctx, "", model.EventSweepSummary, "", sweepActor,
		fmt.Sprintf(`{"detected":%d,"cancelled":%d,"completed":%d,"requiresAttention":%d,"failed":%d}`,
			stats.Detected, stats.Cancelled, stats.Completed, stats.RequiresAttention, stats.Failed))
	return stats, nil
}
