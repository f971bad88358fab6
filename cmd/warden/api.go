package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/rest"
	"github.com/robalyx/warden/internal/rest/handler"
	"github.com/robalyx/warden/internal/rest/middleware/ratelimit"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/robalyx/warden/internal/worker"
	"go.uber.org/zap"
)

// Server timeouts.
const (
	ReadTimeout       = 5 * time.Second
	ReadHeaderTimeout = 2 * time.Second
	WriteTimeout      = 30 * time.Second
)

// runAPI serves the dashboard API until interrupted.
func runAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceAPI, APILogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	cfg := app.Config.Warden
	logger := app.Logger

	enforcement, _, err := newEnforcement(app)
	if err != nil {
		return err
	}

	emitter, err := app.Emitter()
	if err != nil {
		return err
	}

	svc := app.NewService(enforcement, emitter)

	checks := map[string]handler.CheckFunc{}
	if app.DB != nil {
		checks["database"] = app.DB.Ping
	}

	var workers handler.StatusLister
	if statusClient, err := app.RedisManager.GetClient(redis.StatusDBIndex); err != nil {
		logger.Warn("Scheduler statuses unavailable", zap.Error(err))
	} else {
		workers = worker.NewMonitor(statusClient, config.Millis(cfg.Scheduler.HeartbeatTTL), logger)
		checks["redis"] = app.RedisManager.Ping
	}

	health := handler.NewHealthHandler(checks, workers, logger)
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           rest.NewServer(svc, health, rest.Options{
			Token: cfg.API.Token,
			RateLimit: ratelimit.Config{
				RequestsPerSecond: cfg.API.RequestsPerSecond,
				BurstSize:         cfg.API.BurstSize,
				StrikeLimit:       cfg.API.StrikeLimit,
				BlockDuration:     time.Duration(cfg.API.BlockDuration) * time.Second,
			},
		}, logger),
		ReadTimeout:       ReadTimeout,
		ReadHeaderTimeout: ReadHeaderTimeout,
		WriteTimeout:      WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("REST server started", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down REST server...")

	timeout := config.Millis(cfg.API.ShutdownTimeout)
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server gracefully stopped")
	return nil
}
