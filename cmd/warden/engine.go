package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/robalyx/warden/internal/worker"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// runEngine connects to Discord and runs the dispatcher, scheduler and janitor until interrupted.
func runEngine(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceEngine, EngineLogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	cfg := app.Config.Warden
	logger := app.Logger

	gw, err := discord.NewGateway(cfg.Discord.Token, logger)
	if err != nil {
		return err
	}

	var extra []moderation.Emitter

	var notifier *discord.Notifier
	if notifyMembers(&cfg) {
		notifier = discord.NewNotifier(gw.Rest(), logger)
		extra = append(extra, notifier)
	}

	emitter, err := app.Emitter(extra...)
	if err != nil {
		return err
	}

	// Events still arrive through the gateway in dry run mode
	svc := app.NewService(enforcementFor(&cfg, gw.Rest(), logger), emitter)
	dispatcher := moderation.NewDispatcher(svc, logger)
	scheduler := moderation.NewScheduler(svc, app.SchedulerConfig(), app.LogManager.GetWorkerLogger("scheduler"))

	var wg conc.WaitGroup

	// Heartbeats are best effort, the engine runs without Redis
	if statusClient, err := app.RedisManager.GetClient(redis.StatusDBIndex); err != nil {
		logger.Warn("Scheduler status reporting disabled", zap.Error(err))
	} else {
		monitor := worker.NewMonitor(statusClient, config.Millis(cfg.Scheduler.HeartbeatTTL), logger)
		reporter := worker.NewReporter(monitor, telemetry.ServiceEngine.String(), app.LogManager.GetInstanceID(), logger)
		scheduler.OnSweep(reporter.RecordSweep)
		wg.Go(func() { reporter.Run(ctx) })
	}

	janitorInterval := config.Millis(cfg.Scheduler.JanitorInterval)
	if janitorInterval <= 0 {
		janitorInterval = defaultJanitorInterval
	}
	windowIdle := config.Millis(cfg.Scheduler.WindowIdle)
	if windowIdle <= 0 {
		windowIdle = defaultWindowIdle
	}

	wg.Go(func() { runWorker(ctx, "scheduler", scheduler.Run, logger) })
	wg.Go(func() { dispatcher.RunJanitor(ctx, janitorInterval, windowIdle) })
	if notifier != nil {
		wg.Go(func() { notifier.Run(ctx) })
	}

	if err := gw.Open(ctx, dispatcher, cfg.Discord.MaxConcurrentEvents); err != nil {
		stop()
		wg.Wait()
		return err
	}

	logger.Info("Engine started", zap.String("storage", cfg.Storage.Driver))
	<-ctx.Done()

	logger.Info("Shutting down engine...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()

	gw.Close(shutdownCtx)
	wg.Wait()

	logger.Info("Engine stopped")
	return nil
}
