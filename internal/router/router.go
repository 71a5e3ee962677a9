package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/warehouse-free-picking/internal/config"
	"github.com/iliyamo/warehouse-free-picking/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/warehouse-free-picking/internal/middleware" // import middleware for JWT authentication and rate limiting
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only the liveness probe.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	// Load balancers and monitoring systems hit this endpoint to verify
	// that the service is up and running.
	e.GET("/healthz", h.Live)
}

// RegisterPicking registers the session workflow and stock routes.  Every
// route in this group requires a valid access token; the picker identity
// from the token becomes the actor on all mutations.  The Redis token
// bucket throttles scan bursts per picker and route.
func RegisterPicking(e *echo.Echo, s *handler.SessionHandler, st *handler.StockHandler, jwtSecret string, rl config.RateLimitConfig, rdb *redis.Client) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	v1.Use(middleware.NewTokenBucket(rl, rdb))

	// Session lifecycle.
	v1.POST("/sessions", s.Create)
	v1.GET("/sessions/:id", s.Get)
	v1.POST("/sessions/:id/items", s.Scan)
	v1.POST("/sessions/:id/corrections", s.Correct)
	v1.POST("/sessions/:id/verify", s.Verify)
	v1.POST("/sessions/:id/finalize", s.Finalize)
	v1.POST("/sessions/:id/cancel", s.Cancel)

	// Stock ledger lookups and replenishment.
	v1.GET("/stock/:sku", st.ListCells)
	v1.GET("/stock/:sku/:bin", st.GetCell)
	v1.PUT("/stock/:sku/:bin", st.SetCell)
}

// RegisterOps registers the supervisor-facing recovery and health routes.
// These share the same JWT gate as the picking routes; role separation is
// handled upstream by the identity provider issuing the tokens.
func RegisterOps(e *echo.Echo, r *handler.RecoveryHandler, h *handler.HealthHandler, jwtSecret string) {
	ops := e.Group("/v1")
	ops.Use(middleware.JWTAuth(jwtSecret))

	ops.GET("/recovery/zombies", r.ListZombies)
	ops.POST("/recovery/zombies/:id", r.Recover)
	ops.POST("/recovery/sweep", r.Sweep)
	ops.GET("/health/report", h.Report)
}
