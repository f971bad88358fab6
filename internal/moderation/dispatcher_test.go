package moderation_test

import (
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (env *testEnv) setConfig(t *testing.T, mutate func(cfg *automod.Config)) {
	t.Helper()

	cfg := automod.DefaultConfig()
	mutate(cfg)
	require.NoError(t, env.svc.UpdateConfig(t.Context(), testGuild, cfg))
}

func (env *testEnv) message(userID uint64, content string) *moderation.MessageEvent {
	return &moderation.MessageEvent{
		GuildID:   testGuild,
		UserID:    userID,
		ChannelID: 500,
		MessageID: 600,
		Content:   content,
		Timestamp: env.clock.Now(),
	}
}

func TestDispatcherSpam(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.SpamProtection = automod.SpamProtection{
			Enabled: true, MaxMessages: 5, TimeWindowMs: 5000, Punishment: enum.ActionMute, DurationMs: 60000,
		}
	})

	var results []*moderation.MessageResult
	for range 6 {
		res, err := env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "hello"))
		require.NoError(t, err)
		if res != nil {
			results = append(results, res)
		}
		env.clock.Advance(100 * time.Millisecond)
	}

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Outcome.Punishment)
	assert.Equal(t, enum.PunishmentTypeMute, results[0].Outcome.Punishment.Type)
	assert.Equal(t, types.SystemModeratorID, results[0].Outcome.Punishment.ModeratorID)
	assert.Len(t, env.activeMutes(t, testUser), 1)
	assert.Equal(t, 1, env.enf.count("mute:200"))

	events := env.emitter.ofType(enum.LogActionMute)
	require.Len(t, events, 1)
	assert.Equal(t, enum.EventKindAutoMod, events[0].Kind)
}

func TestDispatcherConcurrentBurst(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.SpamProtection = automod.SpamProtection{
			Enabled: true, MaxMessages: 5, TimeWindowMs: 60000, Punishment: enum.ActionMute, DurationMs: 60000,
		}
	})

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		violations int
	)
	for range 48 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "hello"))
			assert.NoError(t, err)
			if res != nil {
				mu.Lock()
				violations++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every sixth message breaks the limit and resets the window
	assert.Equal(t, 8, violations)
	assert.Len(t, env.activeMutes(t, testUser), 1)
	assert.Equal(t, 7, env.logCount(t, enum.LogActionPunishmentSuperseded))
}

func TestDispatcherDeletesMessage(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.ProfanityFilter = automod.ProfanityFilter{
			Enabled: true, Words: []string{"darn"}, Punishment: enum.ActionWarn, DeleteMessage: true,
		}
	})

	res, err := env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "Darn it"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, automod.RuleProfanity, res.Violation.Rule)
	assert.True(t, res.MessageDeleted)
	require.NotNil(t, res.Outcome.Warning)
	assert.True(t, res.Outcome.Warning.IsSystem())

	assert.Equal(t, 1, env.enf.count("delete:600"))
	assert.Equal(t, 1, env.logCount(t, enum.LogActionMessageDeleted))
	assert.Equal(t, 1, env.logCount(t, enum.LogActionWarn))
}

func TestDispatcherEscalation(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.CapsProtection = automod.CapsProtection{
			Enabled: true, MaxCapsPercentage: 50, MinLength: 5, Punishment: enum.ActionWarn,
		}
		cfg.Escalation = automod.Escalation{
			Enabled: true, WarnThreshold: 2, Punishment: enum.ActionMute, DurationMs: 60000,
		}
	})

	res, err := env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "STOP SHOUTING"))
	require.NoError(t, err)
	assert.Nil(t, res.Outcome.Escalation)

	res, err = env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "STILL SHOUTING"))
	require.NoError(t, err)
	require.NotNil(t, res.Outcome.Escalation)
	assert.Equal(t, enum.PunishmentTypeMute, res.Outcome.Escalation.Type)
	assert.Len(t, env.activeMutes(t, testUser), 1)

	// Warnings stay active, so every further warning past the threshold escalates again
	first := res.Outcome.Escalation
	res, err = env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "LOUDER STILL"))
	require.NoError(t, err)
	require.NotNil(t, res.Outcome.Escalation)
	assert.NotEqual(t, first.ID, res.Outcome.Escalation.ID)

	mutes := env.activeMutes(t, testUser)
	require.Len(t, mutes, 1)
	assert.Equal(t, res.Outcome.Escalation.ID, mutes[0].ID)
	assert.Equal(t, 1, env.logCount(t, enum.LogActionPunishmentSuperseded))
	assert.Equal(t, 3, env.logCount(t, enum.LogActionWarn))
}

func TestDispatcherCapsStoredMuteAtTimeoutLimit(t *testing.T) {
	t.Parallel()

	env := setupTest(t)

	// Written straight to the source, as a config stored before validation capped mutes
	cfg := automod.DefaultConfig()
	cfg.CapsProtection = automod.CapsProtection{
		Enabled: true, MaxCapsPercentage: 50, MinLength: 5, Punishment: enum.ActionMute,
		DurationMs: (60 * 24 * time.Hour).Milliseconds(),
	}
	require.NoError(t, env.configs.Put(t.Context(), testGuild, cfg))

	start := env.clock.Now()
	res, err := env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "STOP SHOUTING"))
	require.NoError(t, err)
	require.NotNil(t, res.Outcome.Punishment)
	require.NotNil(t, res.Outcome.Punishment.ExpiresAt)
	assert.Equal(t, start.Add(automod.MaxMuteDuration), *res.Outcome.Punishment.ExpiresAt)

	// The record expires together with the platform timeout
	env.clock.Advance(automod.MaxMuteDuration + time.Second)
	result, err := env.scheduler.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	assert.Empty(t, env.activeMutes(t, testUser))
}

func TestDispatcherIgnoresBotsAndCleanMessages(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.ProfanityFilter = automod.ProfanityFilter{Enabled: true, Words: []string{"darn"}, Punishment: enum.ActionWarn}
	})

	bot := env.message(testUser, "darn")
	bot.Bot = true
	res, err := env.dispatcher.HandleMessage(t.Context(), bot)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = env.dispatcher.HandleMessage(t.Context(), env.message(testUser, "lovely weather"))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestDispatcherRaid(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.AntiRaid = automod.AntiRaid{
			Enabled:            true,
			MaxJoins:           10,
			TimeWindowMs:       60000,
			Action:             enum.RaidActionLockdown,
			LockdownChannelIDs: []snowflake.ID{700, 701},
		}
	})

	triggers := 0
	for i := range 20 {
		state, err := env.dispatcher.HandleJoin(t.Context(), &moderation.JoinEvent{
			GuildID:   testGuild,
			UserID:    uint64(1000 + i),
			Timestamp: env.clock.Now(),
		})
		require.NoError(t, err)
		if state.Triggered {
			triggers++
			assert.Equal(t, 11, state.Count)
		}
		env.clock.Advance(time.Second)
	}

	assert.Equal(t, 1, triggers)
	assert.Equal(t, 1, env.enf.count("slowmode:700"))
	assert.Equal(t, 1, env.enf.count("slowmode:701"))
	assert.Equal(t, 1, env.logCount(t, enum.LogActionRaidDetected))

	events := env.emitter.ofType(enum.LogActionRaidDetected)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsAutoMod())
}

func TestDispatcherRaidAlertOnly(t *testing.T) {
	t.Parallel()

	env := setupTest(t)
	env.setConfig(t, func(cfg *automod.Config) {
		cfg.AntiRaid = automod.AntiRaid{
			Enabled: true, MaxJoins: 2, TimeWindowMs: 60000, Action: enum.RaidActionAlert,
			LockdownChannelIDs: []snowflake.ID{700},
		}
	})

	for i := range 3 {
		_, err := env.dispatcher.HandleJoin(t.Context(), &moderation.JoinEvent{
			GuildID: testGuild, UserID: uint64(i + 1), Timestamp: env.clock.Now(),
		})
		require.NoError(t, err)
	}

	assert.Zero(t, env.enf.count("slowmode:700"))
	assert.Equal(t, 1, env.logCount(t, enum.LogActionRaidDetected))
}
