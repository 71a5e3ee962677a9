package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

func newTestCell(t *testing.T, ctx context.Context, repo *StockRepo, onHand int64) (string, string) {
	t.Helper()
	sku := "SKU-" + uuid.NewString()[:8]
	bin := "A-01"
	if err := repo.SetCell(ctx, sku, bin, onHand); err != nil {
		t.Fatalf("seed cell: %v", err)
	}
	return sku, bin
}

func TestReserve_GuardRejectsOverdraw(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku, bin := newTestCell(t, ctx, repo, 10)

	if err := repo.Reserve(ctx, sku, bin, 6); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := repo.Reserve(ctx, sku, bin, 6); err != ErrInsufficientStock {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	cell, err := repo.GetCell(ctx, sku, bin)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if cell.Reserved != 6 || cell.Available != 4 {
		t.Fatalf("unexpected cell state: %+v", cell)
	}
}

func TestReserve_UnknownCell(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	repo := NewStockRepo(db)

	err := repo.Reserve(context.Background(), "SKU-"+uuid.NewString()[:8], "Z-99", 1)
	if err != ErrCellNotFound {
		t.Fatalf("expected ErrCellNotFound, got %v", err)
	}
}

// Two concurrent reservations of 6 against 10 available: the conditional
// update admits exactly one.
func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku, bin := newTestCell(t, ctx, repo, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Reserve(ctx, sku, bin, 6)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if err != ErrInsufficientStock {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful reservation, got %d", ok)
	}

	cell, err := repo.GetCell(ctx, sku, bin)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if cell.Reserved != 6 {
		t.Fatalf("expected 6 reserved, got %d", cell.Reserved)
	}
}

func TestConsumeAndRelease_Bounds(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku, bin := newTestCell(t, ctx, repo, 10)
	if err := repo.Reserve(ctx, sku, bin, 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := repo.Consume(ctx, sku, bin, 5); err != ErrOverConsumption {
		t.Fatalf("expected ErrOverConsumption, got %v", err)
	}
	if err := repo.Consume(ctx, sku, bin, 3); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := repo.Release(ctx, sku, bin, 2); err != ErrOverRelease {
		t.Fatalf("expected ErrOverRelease, got %v", err)
	}
	if err := repo.Release(ctx, sku, bin, 1); err != nil {
		t.Fatalf("release: %v", err)
	}

	cell, err := repo.GetCell(ctx, sku, bin)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if cell.OnHand != 7 || cell.Reserved != 0 || cell.Available != 7 {
		t.Fatalf("unexpected cell state: %+v", cell)
	}
}

// Repeating a batch consumption under the same key is a no-op: the key
// claim in stock_consumptions makes the arithmetic idempotent across crash
// recovery and replay.  A distinct key consumes again as usual.
func TestConsumeCellsOnce_RepeatIsANoop(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku, bin := newTestCell(t, ctx, repo, 10)
	if err := repo.Reserve(ctx, sku, bin, 6); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	cells := []model.CellQuantity{{SKU: sku, Bin: bin, Quantity: 3}}
	key := uuid.NewString()
	sessionID := uuid.NewString()
	if err := repo.ConsumeCellsOnce(ctx, key, sessionID, cells); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := repo.ConsumeCellsOnce(ctx, key, sessionID, cells); err != nil {
		t.Fatalf("repeat consume: %v", err)
	}

	cell, err := repo.GetCell(ctx, sku, bin)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if cell.OnHand != 7 || cell.Reserved != 3 {
		t.Fatalf("repeat consumed twice: %+v", cell)
	}

	if err := repo.ConsumeCellsOnce(ctx, uuid.NewString(), sessionID, cells); err != nil {
		t.Fatalf("second key consume: %v", err)
	}
	cell, err = repo.GetCell(ctx, sku, bin)
	if err != nil {
		t.Fatalf("get cell: %v", err)
	}
	if cell.OnHand != 4 || cell.Reserved != 0 {
		t.Fatalf("unexpected cell state: %+v", cell)
	}
}

func TestSetCell_RejectedWhileReserved(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku, bin := newTestCell(t, ctx, repo, 10)
	if err := repo.Reserve(ctx, sku, bin, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := repo.SetCell(ctx, sku, bin, 50); err != ErrConflictingReservations {
		t.Fatalf("expected ErrConflictingReservations, got %v", err)
	}
}

func TestPickBin_LowestEligibleWins(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	ctx := context.Background()
	repo := NewStockRepo(db)

	sku := "SKU-" + uuid.NewString()[:8]
	for i, onHand := range []int64{2, 9, 9} {
		bin := fmt.Sprintf("B-%02d", i+1)
		if err := repo.SetCell(ctx, sku, bin, onHand); err != nil {
			t.Fatalf("seed %s: %v", bin, err)
		}
	}

	// B-01 only holds 2; the first bin with enough available is B-02.
	bin, err := repo.PickBin(ctx, sku, 5)
	if err != nil {
		t.Fatalf("pick bin: %v", err)
	}
	if bin != "B-02" {
		t.Fatalf("expected B-02, got %s", bin)
	}

	if _, err := repo.PickBin(ctx, sku, 50); err != ErrInsufficientStock {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}
