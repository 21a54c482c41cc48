package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/vigil/internal/auth"
	"github.com/wisbric/vigil/internal/config"
	"github.com/wisbric/vigil/internal/httpserver"
	"github.com/wisbric/vigil/internal/platform"
	"github.com/wisbric/vigil/internal/telemetry"
	"github.com/wisbric/vigil/pkg/apikey"
	"github.com/wisbric/vigil/pkg/events"
	"github.com/wisbric/vigil/pkg/guard"
	"github.com/wisbric/vigil/pkg/guardlog"
	"github.com/wisbric/vigil/pkg/ratelimit"
	"github.com/wisbric/vigil/pkg/scan"
	"github.com/wisbric/vigil/pkg/sidecar"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting vigil",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	// --- Auth ---
	apiKeyAuth := auth.NewAPIKeyAuthenticator(db, logger)
	sessionAuth := auth.NewSessionAuthenticator(db)
	tickets := events.NewTickets(rdb)

	// --- Shared infrastructure ---
	apiKeyStore := apikey.NewStore(db)
	limiter := ratelimit.NewLimiter(rdb, logger)
	gateway := sidecar.NewGateway(cfg.MLSidecarURL, cfg.SidecarConnectTimeout, rdb, logger)

	guardLogWriter := guardlog.NewWriter(db, rdb, logger)
	guardLogWriter.Start(ctx)
	defer guardLogWriter.Close()

	// --- Handlers ---
	guardHandler := guard.NewHandler(logger, guard.NewService(gateway, limiter, guardLogWriter, apiKeyStore))
	guardLogStore := guardlog.NewStore(db)
	guardLogHandler := guardlog.NewHandler(logger, db)
	apiKeyHandler := apikey.NewHandler(logger, db)

	scanStore := scan.NewStore(db)
	scanOrchestrator := scan.NewOrchestrator(ctx, scanStore, gateway, logger, cfg.MaxConcurrentScans)
	scanHandler := scan.NewHandler(logger, scanStore, scanOrchestrator)

	eventsHandler := events.NewHandler(logger, rdb, tickets, guardLogStore)

	// --- Routes ---
	v1 := srv.V1Router

	// Session-scoped routes that happen to share the "/guard" prefix with
	// the API-key-protected scan routes below. These are registered as
	// static paths rather than through chi.Mount, since a radix router
	// resolves a static match ahead of a mounted wildcard regardless of
	// registration order — the two groups can coexist under "/guard".
	v1.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(sessionAuth))
		r.Get("/guard/logs", guardLogHandler.HandleList)
		r.Get("/guard/stats", guardLogHandler.HandleStats)
		r.Post("/guard/events/ticket", eventsHandler.MintTicket)
		r.Mount("/api-keys", apiKeyHandler.Routes())
		r.Mount("/scan", scanHandler.Routes())
	})

	v1.Group(func(r chi.Router) {
		r.Use(auth.RequireSessionOrTicket(tickets, sessionAuth))
		r.Get("/guard/events", eventsHandler.Stream)
	})

	v1.Group(func(r chi.Router) {
		r.Use(auth.RequireAPIKey(apiKeyAuth))
		r.Mount("/guard", guardHandler.Routes())
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event streams are long-lived; bound individually instead
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker exists for deployments that want the scan driver and write
// buffer split into a separate process. In this build both run inside the
// api process (scan.Orchestrator spawns detached per-scan goroutines off
// the same root context), so worker mode is currently an idle placeholder
// kept for parity with the "VIGIL_MODE=worker" deployment knob.
func runWorker(ctx context.Context, logger *slog.Logger) error {
	logger.Info("worker started (no standalone background work in this deployment mode)")
	<-ctx.Done()
	return nil
}
