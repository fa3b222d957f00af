// Package main is the entrypoint for the Physique API server.
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

	"github.com/kiranshivaraju/physique/internal/ai"
	"github.com/kiranshivaraju/physique/internal/api"
	"github.com/kiranshivaraju/physique/internal/api/handler"
	mw "github.com/kiranshivaraju/physique/internal/api/middleware"
	"github.com/kiranshivaraju/physique/internal/cache"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	// writeSlack is added to the inference timeout so a synchronous
	// analysis can still write its response.
	writeSlack = 30 * time.Second
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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

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
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and the realtime broker sharing its pool
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	broker := realtime.NewRedisBroker(redisCache.Client())
	slog.Info("redis connected")

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	// 6. Create store and services
	pgStore := store.NewPostgresStore(pool)
	analysisSvc := ai.NewAnalysisService(aiProvider, pgStore, redisCache, broker, cfg.AI.InferenceTimeout)

	// 7. Build router with dependencies
	streamCtx, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache),
		AnalyzeHandler:   handler.NewAnalyzeHandler(analysisSvc, cfg.Server.ImageMaxBytes),
		PollJobHandler:   handler.NewPollJobHandler(analysisSvc),
		EventsHandler:    closeOnShutdown(streamCtx, realtime.StreamHandler(broker, mw.UserIDString, 0)),
		SessionHandler:   handler.NewSessionHandler(),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AI.InferenceTimeout + writeSlack,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(closeStreams)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Async analyses still publish through Redis, so let them finish first.
	analysisSvc.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// closeOnShutdown ends long-lived requests once ctx is cancelled. Shutdown
// otherwise waits for event streams that never go idle.
func closeOnShutdown(ctx context.Context, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		h.ServeHTTP(w, r.WithContext(reqCtx))
	})
}
