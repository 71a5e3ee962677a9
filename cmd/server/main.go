package main // Entry point package

import (
	"context"
	"log" // Logging library
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/warehouse-free-picking/internal/config" // Internal config loader
	"github.com/iliyamo/warehouse-free-picking/internal/database"
	"github.com/iliyamo/warehouse-free-picking/internal/handler"
	"github.com/iliyamo/warehouse-free-picking/internal/queue"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
	"github.com/iliyamo/warehouse-free-picking/internal/router" // Internal router setup
	"github.com/iliyamo/warehouse-free-picking/internal/service"
)

func main() {
	cfg := config.Load() // Load environment config

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: a nil client degrades replay caching and rate
	// limiting to pass-through, MySQL stays the source of truth.
	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	sessions := repository.NewSessionRepo(db)
	items := repository.NewItemRepo(db)
	stock := repository.NewStockRepo(db)
	attempts := repository.NewEmissionRepo(db)
	audits := repository.NewAuditRepo(db)
	cache := repository.NewEmissionCache(rdb)

	auditor := service.NewAuditor(audits, service.NewAMQPTrailPublisher())
	emitter := service.NewHTTPEmitter(cfg.DocumentURL, cfg.EmissionTimeout)
	picking := service.NewPickingService(sessions, items, stock, auditor)
	finalize := service.NewFinalizeService(sessions, items, stock, attempts, cache, emitter, auditor)
	thresholds := service.DefaultThresholds()
	zombies := service.NewZombieService(sessions, items, stock, attempts, finalize, auditor, thresholds, cfg.AmbiguityWindow)
	health := service.NewHealthService(sessions, items, stock, attempts, zombies, auditor, thresholds)

	// The audit trail consumer drains the queue into the on-disk log and
	// reconnects on its own; a missing broker must not block startup.
	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Printf("audit consumer stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSweeper(ctx, zombies, cfg.SweepInterval, cfg.StoreTimeout)
	go runHealthChecks(ctx, health, cfg.HealthInterval, cfg.StoreTimeout)

	e := echo.New() // Create Echo instance
	sessionH := handler.NewSessionHandler(picking, finalize)
	stockH := handler.NewStockHandler(stock)
	recoveryH := handler.NewRecoveryHandler(zombies)
	healthH := handler.NewHealthHandler(health)

	router.RegisterRoutes(e, healthH)
	router.RegisterPicking(e, sessionH, stockH, cfg.JWTSecret, config.LoadRateLimitConfig(), rdb)
	router.RegisterOps(e, recoveryH, healthH, cfg.JWTSecret)

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	go func() {
		if err := e.Start(addr); err != nil { // Start HTTP server
			log.Printf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// runSweeper periodically detects and recovers zombie sessions until the
// context is cancelled.
func runSweeper(ctx context.Context, zombies *service.ZombieService, every, timeout time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, timeout)
			stats, err := zombies.RunSweep(sweepCtx)
			cancel()
			if err != nil {
				log.Printf("zombie sweep: %v", err)
				continue
			}
			if stats.Detected > 0 {
				log.Printf("zombie sweep: detected=%d cancelled=%d completed=%d attention=%d failed=%d",
					stats.Detected, stats.Cancelled, stats.Completed, stats.RequiresAttention, stats.Failed)
			}
		}
	}
}

// runHealthChecks periodically evaluates engine health and logs alerts.
func runHealthChecks(ctx context.Context, health *service.HealthService, every, timeout time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			report, err := health.Check(checkCtx)
			cancel()
			if err != nil {
				log.Printf("health check: %v", err)
				continue
			}
			for _, a := range report.Alerts {
				log.Printf("health alert [%s] %s: %s", a.Severity, a.Code, a.Message)
			}
		}
	}
}
