package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Enforcement carries actions out on the chat platform.
// Every call is fallible. All calls except Kick may be retried.
type Enforcement interface {
	Mute(ctx context.Context, guildID, userID uint64, duration time.Duration, reason string) error
	Unmute(ctx context.Context, guildID, userID uint64) error
	Kick(ctx context.Context, guildID, userID uint64, reason string) error
	Ban(ctx context.Context, guildID, userID uint64, reason string) error
	Unban(ctx context.Context, guildID, userID uint64) error
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
	EnableSlowmode(ctx context.Context, channelID uint64) error
}

// callWithTimeout runs an enforcement call bounded by the timeout.
// A call that outlives the timeout is reported as ErrEnforcementTimeout and left to finish on its own.
func callWithTimeout(
	ctx context.Context, timeout time.Duration, operation string, fn func(ctx context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s", ErrEnforcementTimeout, operation)
		} else {
			err = fmt.Errorf("%w: %s: %w", ErrEnforcementFailed, operation, err)
		}
	}

	enforcementDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		enforcementFailuresTotal.WithLabelValues(operation).Inc()
	}

	return err
}

// DryRunEnforcement logs actions instead of performing them.
type DryRunEnforcement struct {
	logger *zap.Logger
}

// NewDryRunEnforcement creates an enforcement that only logs.
func NewDryRunEnforcement(logger *zap.Logger) *DryRunEnforcement {
	return &DryRunEnforcement{logger: logger.Named("dry_run_enforcement")}
}

func (d *DryRunEnforcement) Mute(_ context.Context, guildID, userID uint64, duration time.Duration, reason string) error {
	d.logger.Info("Would mute member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Duration("duration", duration),
		zap.String("reason", reason))
	return nil
}

func (d *DryRunEnforcement) Unmute(_ context.Context, guildID, userID uint64) error {
	d.logger.Info("Would unmute member", zap.Uint64("guildID", guildID), zap.Uint64("userID", userID))
	return nil
}

func (d *DryRunEnforcement) Kick(_ context.Context, guildID, userID uint64, reason string) error {
	d.logger.Info("Would kick member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.String("reason", reason))
	return nil
}

func (d *DryRunEnforcement) Ban(_ context.Context, guildID, userID uint64, reason string) error {
	d.logger.Info("Would ban member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.String("reason", reason))
	return nil
}

func (d *DryRunEnforcement) Unban(_ context.Context, guildID, userID uint64) error {
	d.logger.Info("Would unban member", zap.Uint64("guildID", guildID), zap.Uint64("userID", userID))
	return nil
}

func (d *DryRunEnforcement) DeleteMessage(_ context.Context, channelID, messageID uint64) error {
	d.logger.Info("Would delete message", zap.Uint64("channelID", channelID), zap.Uint64("messageID", messageID))
	return nil
}

func (d *DryRunEnforcement) EnableSlowmode(_ context.Context, channelID uint64) error {
	d.logger.Info("Would enable slowmode", zap.Uint64("channelID", channelID))
	return nil
}
