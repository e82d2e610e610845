// Package main is the entrypoint for the Cytomind gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cytomind/gateway/internal/api"
	"github.com/cytomind/gateway/internal/api/handler"
	mw "github.com/cytomind/gateway/internal/api/middleware"
	"github.com/cytomind/gateway/internal/api/response"
	"github.com/cytomind/gateway/internal/cache"
	"github.com/cytomind/gateway/internal/config"
	"github.com/cytomind/gateway/internal/inference"
	"github.com/cytomind/gateway/internal/jobs"
	"github.com/cytomind/gateway/internal/metrics"
	"github.com/cytomind/gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 3 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "inference_url", cfg.Inference.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Inference client. The service may still be starting, so a failed
	// readiness check is only logged.
	client := inference.NewHTTPClient(cfg.Inference.BaseURL, cfg.Inference.Timeout)
	if err := client.Ready(ctx); err != nil {
		slog.Warn("inference service not ready", "error", err)
	}

	// 6. Job workflow
	pgStore := store.NewPostgresStore(pool)
	svc := jobs.NewService(pgStore, redisCache, client, cfg.Jobs.ViewCacheTTL)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache, client),
		MetricsHandler: promhttp.Handler(),
		UploadHandler: handler.NewUploadHandler(svc, handler.UploadLimits{
			MaxFileBytes: cfg.Upload.MaxFileBytes,
			MaxFiles:     cfg.Upload.MaxFiles,
		}),
		ListJobsHandler: handler.NewListJobsHandler(svc),
		StatusHandler:   handler.NewStatusHandler(svc),
		ReportHandler:   handler.NewReportHandler(svc),
		ProgressHandler: handler.NewProgressHandler(svc),
	}
	if cfg.Auth.CallbackKeyHash != "" {
		deps.ServiceKey = mw.NewServiceKey(cfg.Auth.CallbackKeyHash)
	} else {
		slog.Warn("CALLBACK_KEY_HASH not set, progress callback disabled")
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server. Uploads and report downloads stream large
	// bodies, so the write deadline covers a full inference round trip.
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Inference.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache and inference connectivity. Only the
// database and cache are required for a 200; an unreachable inference service
// is reported but does not fail the check.
func healthHandler(s store.Store, c cache.Cache, inf inference.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{
			"database":  "ok",
			"cache":     "ok",
			"inference": "ok",
		}

		if err := s.Ping(ctx); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(ctx); err != nil {
			checks["cache"] = "degraded"
		}
		if err := inf.Ready(ctx); err != nil {
			checks["inference"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
