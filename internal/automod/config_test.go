package automod_test

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *automod.Config)
		wantErr bool
	}{
		{
			name:   "default config",
			mutate: func(*automod.Config) {},
		},
		{
			name: "disabled rules are not checked",
			mutate: func(cfg *automod.Config) {
				cfg.SpamProtection.MaxMessages = -1
			},
		},
		{
			name: "spam with zero max messages",
			mutate: func(cfg *automod.Config) {
				cfg.SpamProtection.Enabled = true
				cfg.SpamProtection.MaxMessages = 0
			},
			wantErr: true,
		},
		{
			name: "spam cannot ban",
			mutate: func(cfg *automod.Config) {
				cfg.SpamProtection.Enabled = true
				cfg.SpamProtection.Punishment = enum.ActionBan
			},
			wantErr: true,
		},
		{
			name: "mute requires a duration",
			mutate: func(cfg *automod.Config) {
				cfg.CapsProtection.Enabled = true
				cfg.CapsProtection.Punishment = enum.ActionMute
				cfg.CapsProtection.DurationMs = 0
			},
			wantErr: true,
		},
		{
			name: "mute longer than a discord timeout",
			mutate: func(cfg *automod.Config) {
				cfg.Escalation.Enabled = true
				cfg.Escalation.Punishment = enum.ActionMute
				cfg.Escalation.DurationMs = automod.MaxMuteDuration.Milliseconds() + 1
			},
			wantErr: true,
		},
		{
			name: "mute of exactly the timeout cap",
			mutate: func(cfg *automod.Config) {
				cfg.SpamProtection.Enabled = true
				cfg.SpamProtection.DurationMs = automod.MaxMuteDuration.Milliseconds()
			},
		},
		{
			name: "lockdown without channels",
			mutate: func(cfg *automod.Config) {
				cfg.AntiRaid.Enabled = true
				cfg.AntiRaid.Action = enum.RaidActionLockdown
				cfg.AntiRaid.LockdownChannelIDs = nil
			},
			wantErr: true,
		},
		{
			name: "lockdown with channels",
			mutate: func(cfg *automod.Config) {
				cfg.AntiRaid.Enabled = true
				cfg.AntiRaid.Action = enum.RaidActionLockdown
				cfg.AntiRaid.LockdownChannelIDs = []snowflake.ID{10}
			},
		},
		{
			name: "caps percentage out of range",
			mutate: func(cfg *automod.Config) {
				cfg.CapsProtection.Enabled = true
				cfg.CapsProtection.MaxCapsPercentage = 120
			},
			wantErr: true,
		},
		{
			name: "unknown punishment",
			mutate: func(cfg *automod.Config) {
				cfg.LinkProtection.Enabled = true
				cfg.LinkProtection.Punishment = "shame"
			},
			wantErr: true,
		},
		{
			name: "blank profanity word",
			mutate: func(cfg *automod.Config) {
				cfg.ProfanityFilter.Enabled = true
				cfg.ProfanityFilter.Words = []string{"ok", "  "}
			},
			wantErr: true,
		},
		{
			name: "unknown raid action",
			mutate: func(cfg *automod.Config) {
				cfg.AntiRaid.Enabled = true
				cfg.AntiRaid.Action = "panic"
			},
			wantErr: true,
		},
		{
			name: "escalation to a warning",
			mutate: func(cfg *automod.Config) {
				cfg.Escalation.Enabled = true
				cfg.Escalation.Punishment = enum.ActionWarn
			},
			wantErr: true,
		},
		{
			name: "ban without duration is permanent",
			mutate: func(cfg *automod.Config) {
				cfg.LinkProtection.Enabled = true
				cfg.LinkProtection.Punishment = enum.ActionBan
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := automod.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, automod.ErrConfigInvalid)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cfg := automod.DefaultConfig()
	cfg.SpamProtection.Punishment = enum.ActionKick
	cfg.SpamProtection.DurationMs = 60000
	cfg.ProfanityFilter.Punishment = enum.ActionWarn
	cfg.ProfanityFilter.DeleteMessage = true
	cfg.CapsProtection.Punishment = enum.ActionMute
	cfg.CapsProtection.DurationMs = 60000

	intent, err := automod.Resolve(&automod.Violation{Rule: automod.RuleSpam}, cfg)
	require.NoError(t, err)
	assert.Equal(t, enum.ActionKick, intent.Action)
	assert.Zero(t, intent.Duration)

	intent, err = automod.Resolve(&automod.Violation{Rule: automod.RuleProfanity}, cfg)
	require.NoError(t, err)
	assert.True(t, intent.IsWarning())
	assert.True(t, intent.DeleteMessage)

	intent, err = automod.Resolve(&automod.Violation{Rule: automod.RuleCaps}, cfg)
	require.NoError(t, err)
	assert.Equal(t, enum.ActionMute, intent.Action)
	assert.Equal(t, time.Minute, intent.Duration)

	_, err = automod.Resolve(&automod.Violation{Rule: "unknown"}, cfg)
	require.ErrorIs(t, err, automod.ErrUnknownRule)
}

func TestEscalate(t *testing.T) {
	t.Parallel()

	cfg := automod.DefaultConfig()
	_, ok := automod.Escalate(10, cfg)
	assert.False(t, ok, "escalation is disabled by default")

	cfg.Escalation.Enabled = true
	_, ok = automod.Escalate(cfg.Escalation.WarnThreshold-1, cfg)
	assert.False(t, ok)

	intent, ok := automod.Escalate(cfg.Escalation.WarnThreshold, cfg)
	require.True(t, ok)
	assert.Equal(t, enum.ActionMute, intent.Action)
	assert.Equal(t, time.Hour, intent.Duration)
}

func TestCachedSource(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	mem := automod.NewMemorySource()
	cached := automod.NewCachedSource(mem, 16, time.Minute)

	cfg, err := cached.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, automod.DefaultConfig(), cfg)

	updated := automod.DefaultConfig()
	updated.SpamProtection.Enabled = true
	require.NoError(t, cached.Put(ctx, 1, updated))

	cfg, err = cached.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, cfg.SpamProtection.Enabled)

	// Writes that bypass the cache are only seen after invalidation
	other := automod.DefaultConfig()
	require.NoError(t, mem.Put(ctx, 1, other))

	cfg, _ = cached.Get(ctx, 1)
	assert.True(t, cfg.SpamProtection.Enabled)

	cached.Invalidate(1)
	cfg, _ = cached.Get(ctx, 1)
	assert.False(t, cfg.SpamProtection.Enabled)
}
