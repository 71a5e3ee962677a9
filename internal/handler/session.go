package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/warehouse-free-picking/internal/middleware"
	"github.com/iliyamo/warehouse-free-picking/internal/service"
)

// SessionHandler exposes the picking workflow over HTTP.  Every mutating
// route takes the caller's last known session version so the optimistic
// lock can reject stale clients with 409.
type SessionHandler struct {
	picking  *service.PickingService
	finalize *service.FinalizeService
}

func NewSessionHandler(picking *service.PickingService, finalize *service.FinalizeService) *SessionHandler {
	return &SessionHandler{picking: picking, finalize: finalize}
}

// Create opens a new scanning session for the authenticated picker.
func (h *SessionHandler) Create(c echo.Context) error {
	var req struct {
		DocumentType string `json:"document_type"`
		Destination  string `json:"destination"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.DocumentType == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "document_type is required"})
	}
	sess, err := h.picking.CreateSession(c.Request().Context(), middleware.PickerID(c), req.DocumentType, req.Destination)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, sessionView(*sess))
}

// Get returns one session with its full item history, corrections included.
func (h *SessionHandler) Get(c echo.Context) error {
	detail, err := h.picking.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeErr(c, err)
	}
	items := make([]echo.Map, 0, len(detail.Items))
	for _, it := range detail.Items {
		items = append(items, itemView(it))
	}
	return c.JSON(http.StatusOK, echo.Map{"session": sessionView(detail.Session), "items": items})
}

// Scan reserves stock for one scanned unit batch and appends an item row.
// Bin may be empty; the ledger then picks the lowest eligible bin.
func (h *SessionHandler) Scan(c echo.Context) error {
	var req struct {
		Version  int64  `json:"version"`
		SKU      string `json:"sku"`
		Bin      string `json:"bin"`
		Quantity int64  `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.SKU == "" || req.Quantity <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sku and a positive quantity are required"})
	}
	res, err := h.picking.ScanItem(c.Request().Context(), c.Param("id"), req.Version, req.SKU, req.Bin, req.Quantity, middleware.PickerID(c))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": itemView(res.Item), "version": res.Version})
}

// Correct releases previously reserved stock by recording a compensating
// negative item row.  The correction can never exceed what the session
// still holds in that cell.
func (h *SessionHandler) Correct(c echo.Context) error {
	var req struct {
		Version  int64  `json:"version"`
		SKU      string `json:"sku"`
		Bin      string `json:"bin"`
		Quantity int64  `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.SKU == "" || req.Bin == "" || req.Quantity <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sku, bin and a positive quantity are required"})
	}
	res, err := h.picking.CorrectItem(c.Request().Context(), c.Param("id"), req.Version, req.SKU, req.Bin, req.Quantity, middleware.PickerID(c))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": itemView(res.Item), "version": res.Version})
}

// Verify moves the session from scanning into verifying.
func (h *SessionHandler) Verify(c echo.Context) error {
	var req struct {
		Version int64 `json:"version"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	version, err := h.picking.BeginVerification(c.Request().Context(), c.Param("id"), req.Version, middleware.PickerID(c))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": c.Param("id"), "status": "verifying", "version": version})
}

// Finalize emits the picking document and completes the session.  A repeat
// call within the replay window returns the original emission response
// without touching stock again.
func (h *SessionHandler) Finalize(c echo.Context) error {
	var req struct {
		Version      int64  `json:"version"`
		DocumentType string `json:"document_type"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.finalize.Finalize(c.Request().Context(), c.Param("id"), req.Version, req.DocumentType, middleware.PickerID(c))
	if err != nil {
		return writeErr(c, err)
	}
	if res.Replayed {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

// Cancel aborts the session and releases everything it had reserved.
func (h *SessionHandler) Cancel(c echo.Context) error {
	var req struct {
		Version int64 `json:"version"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	version, err := h.picking.Cancel(c.Request().Context(), c.Param("id"), req.Version, middleware.PickerID(c))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": c.Param("id"), "status": "cancelled", "version": version})
}
