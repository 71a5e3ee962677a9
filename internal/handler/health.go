package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/warehouse-free-picking/internal/service"
)

// HealthHandler serves the liveness probe and the full engine report.
type HealthHandler struct {
	health *service.HealthService
}

func NewHealthHandler(health *service.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Live is the bare liveness probe for load balancers.
func (h *HealthHandler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// Report runs every health probe and returns the aggregated alerts.
// Degraded engines still answer 200; the body carries the severity.
func (h *HealthHandler) Report(c echo.Context) error {
	report, err := h.health.Check(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
