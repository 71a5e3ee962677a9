package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

func newTestAttempt(sessionID string, n int) *model.EmissionAttempt {
	return &model.EmissionAttempt{
		IdempotencyKey: sessionID + ":" + string(rune('0'+n)),
		SessionID:      sessionID,
		AttemptNumber:  n,
		EmissionType:   "remission",
		RequestPayload: "{}",
	}
}

func TestCreatePending_UniqueKeyBackstop(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	sessions := NewSessionRepo(db)
	repo := NewEmissionRepo(db)

	s := newTestSession(t, ctx, sessions)

	if err := repo.CreatePending(ctx, newTestAttempt(s.ID, 1)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := repo.CreatePending(ctx, newTestAttempt(s.ID, 1)); err != ErrDuplicateAttempt {
		t.Fatalf("expected ErrDuplicateAttempt, got %v", err)
	}
}

// Both sides of a crash race insert the same key; the constraint admits one
// no matter the interleaving.
func TestCreatePending_ConcurrentSameKey(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	sessions := NewSessionRepo(db)
	repo := NewEmissionRepo(db)

	s := newTestSession(t, ctx, sessions)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.CreatePending(ctx, newTestAttempt(s.ID, 1))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch err {
		case nil:
			ok++
		case ErrDuplicateAttempt:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Fatalf("expected one insert and one collision, got ok=%d dup=%d", ok, dup)
	}
}

func TestMarkCompleted_TerminalAttemptIsImmutable(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	sessions := NewSessionRepo(db)
	repo := NewEmissionRepo(db)

	s := newTestSession(t, ctx, sessions)
	a := newTestAttempt(s.ID, 1)
	if err := repo.CreatePending(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.MarkCompleted(ctx, a.IdempotencyKey, `{"document_id":"doc-1"}`); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A second terminal write finds no pending row to claim.
	if err := repo.MarkFailed(ctx, a.IdempotencyKey, "late failure"); err != ErrAttemptNotFound {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}

	got, err := repo.GetByKey(ctx, a.IdempotencyKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.AttemptCompleted || got.ResponsePayload == nil {
		t.Fatalf("unexpected attempt: %+v", got)
	}
}

func TestLatestCompleted_RespectsWindow(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	sessions := NewSessionRepo(db)
	repo := NewEmissionRepo(db)

	s := newTestSession(t, ctx, sessions)
	a := newTestAttempt(s.ID, 1)
	if err := repo.CreatePending(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.MarkCompleted(ctx, a.IdempotencyKey, "{}"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := repo.LatestCompleted(ctx, s.ID, model.EmissionReplayWindow); err != nil {
		t.Fatalf("expected attempt inside window: %v", err)
	}

	// Age the attempt past an artificially small window.
	time.Sleep(20 * time.Millisecond)
	if _, err := repo.LatestCompleted(ctx, s.ID, time.Millisecond); err != ErrAttemptNotFound {
		t.Fatalf("expected ErrAttemptNotFound outside window, got %v", err)
	}
}
