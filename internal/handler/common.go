package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
	"github.com/iliyamo/warehouse-free-picking/internal/service"
)

// The model structs carry no JSON tags; handlers shape responses
// explicitly so the wire format stays stable regardless of storage-layer
// refactors.

func sessionView(s model.Session) echo.Map {
	v := echo.Map{
		"id":               s.ID,
		"picker_id":        s.PickerID,
		"status":           s.Status,
		"version":          s.Version,
		"document_type":    s.DocumentType,
		"destination":      s.Destination,
		"retry_count":      s.RetryCount,
		"total_quantity":   s.TotalQuantity,
		"total_lines":      s.TotalLines,
		"created_at":       s.CreatedAt,
		"last_activity_at": s.LastActivityAt,
	}
	if s.LastError != nil {
		v["last_error"] = *s.LastError
	}
	return v
}

func itemView(it model.SessionItem) echo.Map {
	return echo.Map{
		"id":         it.ID,
		"session_id": it.SessionID,
		"sku":        it.SKU,
		"bin":        it.Bin,
		"quantity":   it.Quantity,
		"scanned_at": it.ScannedAt,
	}
}

func cellView(c model.StockCell) echo.Map {
	return echo.Map{
		"sku":        c.SKU,
		"bin":        c.Bin,
		"on_hand":    c.OnHand,
		"reserved":   c.Reserved,
		"available":  c.Available,
		"updated_at": c.UpdatedAt,
	}
}

// writeErr maps engine sentinels to HTTP responses.  Recoverable failures
// carry action "retry" so the scanner app prompts the picker to try again
// with a fresh read; terminal and ambiguous ones carry "contact_supervisor".
func writeErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "session not found"})
	case errors.Is(err, repository.ErrCellNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "stock cell not found"})
	case errors.Is(err, repository.ErrVersionMismatch):
		return c.JSON(http.StatusConflict, echo.Map{"error": "version_mismatch", "action": "retry"})
	case errors.Is(err, repository.ErrLockTimeout):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "lock_timeout", "action": "retry"})
	case errors.Is(err, repository.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_transition"})
	case errors.Is(err, repository.ErrInsufficientStock):
		return c.JSON(http.StatusConflict, echo.Map{"error": "insufficient_stock"})
	case errors.Is(err, repository.ErrOverConsumption), errors.Is(err, repository.ErrOverRelease):
		return c.JSON(http.StatusConflict, echo.Map{"error": "ledger_violation"})
	case errors.Is(err, repository.ErrConflictingReservations):
		return c.JSON(http.StatusConflict, echo.Map{"error": "cell_has_reservations", "action": "retry"})
	case errors.Is(err, repository.ErrDuplicateAttempt):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_attempt", "action": "retry"})
	case errors.Is(err, repository.ErrRetriesExhausted):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "retries_exhausted", "action": "contact_supervisor"})
	case errors.Is(err, service.ErrEmissionFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "emission_failed", "action": "retry"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
