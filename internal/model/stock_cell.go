package model

import "time"

// StockCell is the smallest unit of inventory accounting, keyed by SKU and
// physical bin.  Cells are mutated only through the ledger's atomic
// reserve/consume/release arithmetic; after every mutation the invariants
// available = on_hand - reserved, reserved >= 0 and available >= 0 hold.
//
// Fields:
//
//	SKU       – product code.
//	Bin       – physical bin code; FIFO selection orders by this ascending.
//	OnHand    – physical quantity present in the bin.
//	Reserved  – quantity reserved by open sessions.
//	Available – quantity free to reserve (on_hand - reserved).
//	UpdatedAt – timestamp of the last ledger mutation.
type StockCell struct {
	SKU       string    // stock_cells.sku
	Bin       string    // stock_cells.bin
	OnHand    int64     // stock_cells.on_hand
	Reserved  int64     // stock_cells.reserved
	Available int64     // stock_cells.available
	UpdatedAt time.Time // stock_cells.updated_at
}
