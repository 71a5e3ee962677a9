package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
)

// StockRepo provides the stock ledger: per-(SKU, bin) counters mutated only
// through atomic reserve/consume/release arithmetic.  Every operation is a
// single conditional UPDATE with a lower-bound guard, so concurrent callers
// against the same cell serialize inside the storage engine and can never
// observe or produce negative reserved/available quantities.  Direct writes
// to the counters are forbidden outside this type.
type StockRepo struct {
	db *sql.DB
}

// NewStockRepo returns a new StockRepo bound to the given database.
func NewStockRepo(db *sql.DB) *StockRepo { return &StockRepo{db: db} }

// Reserve atomically moves qty units of a cell from available to reserved.
// It fails with ErrInsufficientStock when the cell does not hold qty
// available units, and with ErrCellNotFound when the cell does not exist.
func (r *StockRepo) Reserve(ctx context.Context, sku, bin string, qty int64) error {
	if qty <= 0 {
		return errors.New("reserve quantity must be positive")
	}
	return r.reserveExec(ctx, r.db, sku, bin, qty)
}

// ReserveTx is Reserve within an existing transaction.  The caller must
// commit or roll back.
func (r *StockRepo) ReserveTx(ctx context.Context, tx *sql.Tx, sku, bin string, qty int64) error {
	if qty <= 0 {
		return errors.New("reserve quantity must be positive")
	}
	return r.reserveExec(ctx, tx, sku, bin, qty)
}

// execer is the subset of *sql.DB and *sql.Tx the ledger arithmetic needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *StockRepo) reserveExec(ctx context.Context, ex execer, sku, bin string, qty int64) error {
	const q = `UPDATE stock_cells
               SET reserved = reserved + ?, available = available - ?
               WHERE sku = ? AND bin = ? AND available >= ?`
	res, err := ex.ExecContext(ctx, q, qty, qty, sku, bin, qty)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing cell from a guard rejection so callers can
		// surface the right error to the picker.
		if exists, err2 := r.cellExists(ctx, sku, bin); err2 != nil {
			return err2
		} else if !exists {
			return ErrCellNotFound
		}
		return ErrInsufficientStock
	}
	return nil
}

// Consume atomically removes qty units from both reserved and on_hand,
// permanently decrementing physical stock.  It fails with ErrOverConsumption
// when the cell holds fewer than qty reserved units.
func (r *StockRepo) Consume(ctx context.Context, sku, bin string, qty int64) error {
	return r.consumeExec(ctx, r.db, sku, bin, qty)
}

func (r *StockRepo) consumeExec(ctx context.Context, ex execer, sku, bin string, qty int64) error {
	if qty <= 0 {
		return errors.New("consume quantity must be positive")
	}
	const q = `UPDATE stock_cells
               SET reserved = reserved - ?, on_hand = on_hand - ?
               WHERE sku = ? AND bin = ? AND reserved >= ?`
	res, err := ex.ExecContext(ctx, q, qty, qty, sku, bin, qty)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if exists, err2 := r.cellExists(ctx, sku, bin); err2 != nil {
			return err2
		} else if !exists {
			return ErrCellNotFound
		}
		return ErrOverConsumption
	}
	return nil
}

// Release atomically moves qty units of a cell from reserved back to
// available; used on rollback and compensating corrections.  It fails with
// ErrOverRelease when the cell holds fewer than qty reserved units.
func (r *StockRepo) Release(ctx context.Context, sku, bin string, qty int64) error {
	return r.releaseExec(ctx, r.db, sku, bin, qty)
}

// ReleaseTx is Release within an existing transaction.
func (r *StockRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, sku, bin string, qty int64) error {
	return r.releaseExec(ctx, tx, sku, bin, qty)
}

func (r *StockRepo) releaseExec(ctx context.Context, ex execer, sku, bin string, qty int64) error {
	if qty <= 0 {
		return errors.New("release quantity must be positive")
	}
	const q = `UPDATE stock_cells
               SET reserved = reserved - ?, available = available + ?
               WHERE sku = ? AND bin = ? AND reserved >= ?`
	res, err := ex.ExecContext(ctx, q, qty, qty, sku, bin, qty)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if exists, err2 := r.cellExists(ctx, sku, bin); err2 != nil {
			return err2
		} else if !exists {
			return ErrCellNotFound
		}
		return ErrOverRelease
	}
	return nil
}

// ConsumeCellsOnce consumes a batch of per-cell quantities at most once per
// idempotency key, all-or-nothing.  Used at successful finalization to
// consume exactly what a session reserved.  The key is claimed by a unique
// insert inside the same transaction as the ledger arithmetic, so a crash
// after commit followed by a recovery re-run finds the claim and returns
// without touching the counters; a crash before commit rolls the claim back
// together with the arithmetic.  Quantities must already be aggregated net
// per cell (corrections summed in); non-positive entries are skipped
// because a fully corrected cell nets to zero.
func (r *StockRepo) ConsumeCellsOnce(ctx context.Context, idempotencyKey, sessionID string, cells []model.CellQuantity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const claim = `INSERT INTO stock_consumptions (idempotency_key, session_id)
                   VALUES (?, ?)`
	if _, err := tx.ExecContext(ctx, claim, idempotencyKey, sessionID); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			// A previous run already consumed under this key.
			return nil
		}
		return err
	}
	for _, c := range cells {
		if c.Quantity <= 0 {
			continue
		}
		if err := r.consumeExec(ctx, tx, c.SKU, c.Bin, c.Quantity); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ReleaseCells releases a batch of per-cell quantities in a single
// transaction, all-or-nothing.  Used when a session is cancelled or
// rolled back by the recovery sweep.
func (r *StockRepo) ReleaseCells(ctx context.Context, cells []model.CellQuantity) error {
	if len(cells) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, c := range cells {
		if c.Quantity <= 0 {
			continue
		}
		if err := r.releaseExec(ctx, tx, c.SKU, c.Bin, c.Quantity); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// PickBin selects the bin a caller should reserve from when it did not name
// one: the lowest bin code holding at least qty available units of the SKU.
// FIFO by bin code is the warehouse tie-break policy.  Returns
// ErrInsufficientStock when no single cell can satisfy the quantity.
func (r *StockRepo) PickBin(ctx context.Context, sku string, qty int64) (string, error) {
	const q = `SELECT bin FROM stock_cells
               WHERE sku = ? AND available >= ?
               ORDER BY bin ASC
               LIMIT 1`
	var bin string
	err := r.db.QueryRowContext(ctx, q, sku, qty).Scan(&bin)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInsufficientStock
	}
	if err != nil {
		return "", err
	}
	return bin, nil
}

// GetCell returns a single stock cell, or ErrCellNotFound.
func (r *StockRepo) GetCell(ctx context.Context, sku, bin string) (*model.StockCell, error) {
	const q = `SELECT sku, bin, on_hand, reserved, available, updated_at
               FROM stock_cells WHERE sku = ? AND bin = ?`
	var c model.StockCell
	err := r.db.QueryRowContext(ctx, q, sku, bin).Scan(
		&c.SKU, &c.Bin, &c.OnHand, &c.Reserved, &c.Available, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCellNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCellsBySKU returns all cells holding a SKU in FIFO bin order.
func (r *StockRepo) ListCellsBySKU(ctx context.Context, sku string) ([]model.StockCell, error) {
	const q = `SELECT sku, bin, on_hand, reserved, available, updated_at
               FROM stock_cells WHERE sku = ?
               ORDER BY bin ASC`
	rows, err := r.db.QueryContext(ctx, q, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cells := make([]model.StockCell, 0)
	for rows.Next() {
		var c model.StockCell
		if err := rows.Scan(&c.SKU, &c.Bin, &c.OnHand, &c.Reserved, &c.Available, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// SetCell seeds or resets a cell's on-hand quantity with zero reserved.
// Intended for initial stock load and admin correction, not for the
// picking flow; it refuses to overwrite a cell with open reservations.
func (r *StockRepo) SetCell(ctx context.Context, sku, bin string, onHand int64) error {
	if onHand < 0 {
		return errors.New("on-hand quantity must not be negative")
	}
	const q = `INSERT INTO stock_cells (sku, bin, on_hand, reserved, available)
               VALUES (?, ?, ?, 0, ?)
               ON DUPLICATE KEY UPDATE
                 on_hand = IF(reserved = 0, VALUES(on_hand), on_hand),
                 available = IF(reserved = 0, VALUES(available), available)`
	res, err := r.db.ExecContext(ctx, q, sku, bin, onHand, onHand)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// MySQL reports 0 affected rows when the IF guards left the row
		// untouched, i.e. the cell still carries reservations.
		cell, err := r.GetCell(ctx, sku, bin)
		if err != nil {
			return err
		}
		if cell.Reserved > 0 {
			return ErrConflictingReservations
		}
	}
	return nil
}

// OrphanedReserved returns the quantity the ledger carries as reserved in
// excess of what sessions in active states (scanning, verifying, emitting)
// net-reserve through their items.  A positive result is a leak the
// recovery path failed to unwind and is reported by the health aggregator;
// it is never auto-fixed.
func (r *StockRepo) OrphanedReserved(ctx context.Context) (int64, error) {
	const q = `SELECT
                 (SELECT COALESCE(SUM(reserved), 0) FROM stock_cells)
                 -
                 (SELECT COALESCE(SUM(si.quantity), 0)
                  FROM session_items si
                  JOIN sessions s ON s.id = si.session_id
                  WHERE s.status IN ('scanning', 'verifying', 'emitting'))`
	var excess int64
	if err := r.db.QueryRowContext(ctx, q).Scan(&excess); err != nil {
		return 0, err
	}
	if excess < 0 {
		excess = 0
	}
	return excess, nil
}

func (r *StockRepo) cellExists(ctx context.Context, sku, bin string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM stock_cells WHERE sku = ? AND bin = ?`, sku, bin,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
