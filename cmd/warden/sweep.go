package main

import (
	"context"

	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/setup"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"go.uber.org/zap"
)

// runSweep lifts expired punishments and retries failed ones once, for use from cron.
func runSweep(ctx context.Context) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceSweep, SweepLogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	enforcement, _, err := newEnforcement(app)
	if err != nil {
		return err
	}

	emitter, err := app.Emitter()
	if err != nil {
		return err
	}

	svc := app.NewService(enforcement, emitter)
	scheduler := moderation.NewScheduler(svc, app.SchedulerConfig(), app.Logger)

	result, err := scheduler.Sweep(ctx)
	if err != nil {
		return err
	}

	app.Logger.Info("Sweep finished",
		zap.Int("due", result.Due),
		zap.Int("expired", result.Expired),
		zap.Int("reapplied", result.Reapplied),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return nil
}
