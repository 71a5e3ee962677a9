package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/warehouse-free-picking/internal/service"
)

// RecoveryHandler gives supervisors a window into zombie detection and a
// manual trigger for recovery when they do not want to wait for the sweep.
type RecoveryHandler struct {
	zombies *service.ZombieService
}

func NewRecoveryHandler(zombies *service.ZombieService) *RecoveryHandler {
	return &RecoveryHandler{zombies: zombies}
}

// ListZombies reports sessions the detector currently classifies as stuck.
func (h *RecoveryHandler) ListZombies(c echo.Context) error {
	candidates, err := h.zombies.DetectZombies(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	views := make([]echo.Map, 0, len(candidates))
	for _, cand := range candidates {
		views = append(views, echo.Map{
			"session":        sessionView(cand.Session),
			"classification": cand.Classification,
			"inactive_for":   cand.InactiveFor.String(),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(views), "zombies": views})
}

// Recover runs recovery for a single session.  force=true lets a
// supervisor cancel a session in error status before the hard threshold.
func (h *RecoveryHandler) Recover(c echo.Context) error {
	var req struct {
		Force bool `json:"force"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	res, err := h.zombies.RecoverZombieSession(c.Request().Context(), c.Param("id"), req.Force)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Sweep runs a full detection and recovery pass immediately.
func (h *RecoveryHandler) Sweep(c echo.Context) error {
	stats, err := h.zombies.RunSweep(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
