package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// ItemRepo provides data access to session_items.  Item rows are written
// once and never updated; corrections arrive as compensating rows with
// negative quantity, so the net quantity a session holds against a cell is
// always SUM(quantity) over its rows for that cell.
type ItemRepo struct {
	db *sql.DB
}

// NewItemRepo returns a new ItemRepo bound to the given database.
func NewItemRepo(db *sql.DB) *ItemRepo { return &ItemRepo{db: db} }

// Create inserts one item row and populates its generated id and
// scanned_at timestamp.
func (r *ItemRepo) Create(ctx context.Context, it *model.SessionItem) error {
	const q = `INSERT INTO session_items (session_id, sku, bin, quantity)
               VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, it.SessionID, it.SKU, it.Bin, it.Quantity)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	return r.db.QueryRowContext(ctx,
		`SELECT scanned_at FROM session_items WHERE id = ?`, it.ID,
	).Scan(&it.ScannedAt)
}

// ListBySession returns all item rows of a session in scan order,
// compensating rows included.
func (r *ItemRepo) ListBySession(ctx context.Context, sessionID string) ([]model.SessionItem, error) {
	const q = `SELECT id, session_id, sku, bin, quantity, scanned_at
               FROM session_items WHERE session_id = ?
               ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.SessionItem, 0)
	for rows.Next() {
		var it model.SessionItem
		if err := rows.Scan(&it.ID, &it.SessionID, &it.SKU, &it.Bin, &it.Quantity, &it.ScannedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// NetCellQuantities aggregates a session's items into net reserved
// quantities per (sku, bin), ordered by bin for deterministic batch
// processing.  Cells that net to zero or below are filtered out; they hold
// no reservation to consume or release.
func (r *ItemRepo) NetCellQuantities(ctx context.Context, sessionID string) ([]model.CellQuantity, error) {
	const q = `SELECT sku, bin, SUM(quantity) AS qty
               FROM session_items
               WHERE session_id = ?
               GROUP BY sku, bin
               HAVING qty > 0
               ORDER BY sku ASC, bin ASC`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cells := make([]model.CellQuantity, 0)
	for rows.Next() {
		var c model.CellQuantity
		if err := rows.Scan(&c.SKU, &c.Bin, &c.Quantity); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// NetCellQuantity returns the net reserved quantity a session holds against
// one cell.  Used to validate corrections before releasing stock.
func (r *ItemRepo) NetCellQuantity(ctx context.Context, sessionID, sku, bin string) (int64, error) {
	const q = `SELECT COALESCE(SUM(quantity), 0)
               FROM session_items
               WHERE session_id = ? AND sku = ? AND bin = ?`
	var qty int64
	err := r.db.QueryRowContext(ctx, q, sessionID, sku, bin).Scan(&qty)
	return qty, err
}

// Totals returns the recomputed (net quantity, row count) for a session,
// used by the health aggregator to reconcile the cached session counters.
func (r *ItemRepo) Totals(ctx context.Context, sessionID string) (int64, int, error) {
	const q = `SELECT COALESCE(SUM(quantity), 0), COUNT(*)
               FROM session_items WHERE session_id = ?`
	var qty int64
	var lines int
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(&qty, &lines)
	return qty, lines, err
}
