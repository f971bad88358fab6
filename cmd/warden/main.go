package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// Log directories per command.
const (
	EngineLogDir = "logs/engine_logs"
	APILogDir    = "logs/api_logs"
	SweepLogDir  = "logs/sweep_logs"
)

// Defaults for settings left at zero.
const (
	defaultJanitorInterval = time.Minute
	defaultWindowIdle      = 10 * time.Minute
	defaultShutdownTimeout = 30 * time.Second
	workerRestartDelay     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "warden",
		Usage: "Discord auto-moderation engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Connect to Discord and moderate incoming events",
				Action: func(ctx context.Context, _ *cli.Command) error { return runEngine(ctx) },
			},
			{
				Name:   "api",
				Usage:  "Serve the dashboard REST API",
				Action: func(ctx context.Context, _ *cli.Command) error { return runAPI(ctx) },
			},
			{
				Name:   "sweep",
				Usage:  "Run a single expiry sweep and exit",
				Action: func(ctx context.Context, _ *cli.Command) error { return runSweep(ctx) },
			},
			dbCommand(),
		},
	}

	return app.Run(context.Background(), os.Args)
}

// newEnforcement returns the Discord enforcer, or a dry run when enabled.
// The returned gateway is nil in dry run mode and is not connected.
func newEnforcement(app *setup.App) (moderation.Enforcement, *discord.Gateway, error) {
	cfg := &app.Config.Warden
	if cfg.Enforcement.DryRun {
		return enforcementFor(cfg, nil, app.Logger), nil, nil
	}

	gw, err := discord.NewGateway(cfg.Discord.Token, app.Logger)
	if err != nil {
		return nil, nil, err
	}

	return enforcementFor(cfg, gw.Rest(), app.Logger), gw, nil
}

// enforcementFor returns the enforcement acting through the Discord API,
// or one that only logs when dry run is enabled.
func enforcementFor(cfg *config.WardenConfig, api discord.API, logger *zap.Logger) moderation.Enforcement {
	if cfg.Enforcement.DryRun {
		logger.Warn("Dry run enabled, enforcement actions are only logged")
		return moderation.NewDryRunEnforcement(logger)
	}
	return discord.NewEnforcer(api, cfg.Enforcement.SlowmodeSeconds, logger)
}

// notifyMembers reports whether punished members get a direct message.
// Dry runs send nothing to Discord.
func notifyMembers(cfg *config.WardenConfig) bool {
	return cfg.Discord.NotifyMembers && !cfg.Enforcement.DryRun
}

// runWorker runs fn in a loop, restarting it after a panic or an unexpected return.
func runWorker(ctx context.Context, name string, fn func(ctx context.Context) error, logger *zap.Logger) {
	logger = logger.With(zap.String("worker", name))

	for {
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()

			logger.Info("Starting worker")
			return fn(ctx)
		}()

		if ctx.Err() != nil {
			logger.Info("Context cancelled, stopping worker")
			return
		}

		logger.Error("Worker stopped unexpectedly, restarting",
			zap.Error(err),
			zap.Duration("delay", workerRestartDelay))

		if !utils.ErrorSleep(ctx, workerRestartDelay, logger, name) {
			return
		}
	}
}
