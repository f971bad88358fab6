package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		runWorker(ctx, "test", func(ctx context.Context) error {
			calls.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}, zap.NewNop())
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunWorkerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		runWorker(ctx, "test", func(context.Context) error {
			defer cancel()
			panic(errors.New("boom"))
		}, zap.NewNop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not return after panic")
	}
}

func TestEnforcementForDryRun(t *testing.T) {
	t.Parallel()

	cfg := &config.WardenConfig{
		Discord:     config.Discord{NotifyMembers: true},
		Enforcement: config.Enforcement{DryRun: true},
	}

	// No Discord client is needed, nothing may reach the API
	enforcement := enforcementFor(cfg, nil, zap.NewNop())
	require.IsType(t, &moderation.DryRunEnforcement{}, enforcement)
	require.NoError(t, enforcement.Ban(t.Context(), 1, 2, "spam"))
	require.NoError(t, enforcement.Mute(t.Context(), 1, 2, time.Minute, "spam"))
	assert.False(t, notifyMembers(cfg))
}

func TestEnforcementForDiscord(t *testing.T) {
	t.Parallel()

	cfg := &config.WardenConfig{
		Discord: config.Discord{NotifyMembers: true},
	}

	assert.IsType(t, &discord.Enforcer{}, enforcementFor(cfg, nil, zap.NewNop()))
	assert.True(t, notifyMembers(cfg))

	cfg.Discord.NotifyMembers = false
	assert.False(t, notifyMembers(cfg))
}
