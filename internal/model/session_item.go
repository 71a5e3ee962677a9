package model

import "time"

// SessionItem records a single scan into a picking session.  Rows are
// immutable once written: corrections are modeled as compensating rows with
// negative quantity paired with a stock release, never as edits.  Items are
// deleted only when their session is deleted or fully rolled back.
//
// Fields:
//
//	ID        – primary key identifier.
//	SessionID – session the scan belongs to.
//	SKU       – scanned product code.
//	Bin       – physical bin the product was taken from.
//	Quantity  – scanned quantity; negative for compensating corrections.
//	ScannedAt – when the scan was accepted.
type SessionItem struct {
	ID        uint64    // session_items.id
	SessionID string    // session_items.session_id
	SKU       string    // session_items.sku
	Bin       string    // session_items.bin
	Quantity  int64     // session_items.quantity
	ScannedAt time.Time // session_items.scanned_at
}

// CellQuantity is the net reserved quantity a session holds against one
// stock cell, aggregated over its item rows.  It is the unit of work for
// batch consumption and rollback.
type CellQuantity struct {
	SKU      string // session_items.sku
	Bin      string // session_items.bin
	Quantity int64  // SUM(session_items.quantity)
}
