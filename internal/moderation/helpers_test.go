package moderation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testGuild = uint64(100)
	testUser  = uint64(200)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeEnforcement records calls and fails those selected by failFn.
type fakeEnforcement struct {
	mu     sync.Mutex
	calls  []string
	failFn func(op string, userID uint64) error
}

func (f *fakeEnforcement) do(ctx context.Context, op string, id uint64) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", op, id))
	failFn := f.failFn
	f.mu.Unlock()

	if failFn != nil {
		if err := failFn(op, id); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (f *fakeEnforcement) setFail(fn func(op string, userID uint64) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFn = fn
}

func (f *fakeEnforcement) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEnforcement) Mute(ctx context.Context, _, userID uint64, _ time.Duration, _ string) error {
	return f.do(ctx, "mute", userID)
}

func (f *fakeEnforcement) Unmute(ctx context.Context, _, userID uint64) error {
	return f.do(ctx, "unmute", userID)
}

func (f *fakeEnforcement) Kick(ctx context.Context, _, userID uint64, _ string) error {
	return f.do(ctx, "kick", userID)
}

func (f *fakeEnforcement) Ban(ctx context.Context, _, userID uint64, _ string) error {
	return f.do(ctx, "ban", userID)
}

func (f *fakeEnforcement) Unban(ctx context.Context, _, userID uint64) error {
	return f.do(ctx, "unban", userID)
}

func (f *fakeEnforcement) DeleteMessage(ctx context.Context, _, messageID uint64) error {
	return f.do(ctx, "delete", messageID)
}

func (f *fakeEnforcement) EnableSlowmode(ctx context.Context, channelID uint64) error {
	return f.do(ctx, "slowmode", channelID)
}

// recordingEmitter keeps every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*moderation.Event
}

func (r *recordingEmitter) Emit(_ context.Context, event *moderation.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) ofType(action enum.LogAction) []*moderation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*moderation.Event
	for _, e := range r.events {
		if e.Type == action {
			result = append(result, e)
		}
	}
	return result
}

type testEnv struct {
	store      *moderation.MemoryStore
	configs    *automod.MemorySource
	enf        *fakeEnforcement
	emitter    *recordingEmitter
	clock      *fakeClock
	svc        *moderation.Service
	dispatcher *moderation.Dispatcher
	scheduler  *moderation.Scheduler
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   moderation.NewMemoryStore(),
		configs: automod.NewMemorySource(),
		enf:     &fakeEnforcement{},
		emitter: &recordingEmitter{},
		clock:   &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
	}

	logger := zap.NewNop()
	env.svc = moderation.NewService(env.store, env.configs, env.enf, env.emitter, logger,
		moderation.WithClock(env.clock.Now),
		moderation.WithEnforcementTimeout(time.Second))
	env.dispatcher = moderation.NewDispatcher(env.svc, logger)
	env.scheduler = moderation.NewScheduler(env.svc, moderation.SchedulerConfig{
		Interval:            time.Second,
		RevokeLease:         time.Minute,
		BatchSize:           50,
		Concurrency:         4,
		InitialBackoff:      time.Minute,
		MaxBackoff:          10 * time.Minute,
		RandomizationFactor: 0,
	}, logger)

	return env
}

// logCount counts the guild's log entries with the given action.
func (env *testEnv) logCount(t *testing.T, action enum.LogAction) int {
	t.Helper()

	logs, _, err := env.store.ListLogs(t.Context(), testGuild, nil, 1000)
	require.NoError(t, err)

	n := 0
	for _, l := range logs {
		if l.Action == action {
			n++
		}
	}
	return n
}

func (env *testEnv) activeMutes(t *testing.T, userID uint64) []*types.Punishment {
	t.Helper()

	active, err := env.store.ListActivePunishments(t.Context(), testGuild)
	require.NoError(t, err)

	var mutes []*types.Punishment
	for _, p := range active {
		if p.UserID == userID && p.Type == enum.PunishmentTypeMute {
			mutes = append(mutes, p)
		}
	}
	return mutes
}

func (env *testEnv) mute(t *testing.T, userID uint64, duration time.Duration) *types.Punishment {
	t.Helper()

	p, err := env.svc.AddPunishment(t.Context(), moderation.PunishmentRequest{
		GuildID:     testGuild,
		UserID:      userID,
		Type:        enum.PunishmentTypeMute,
		Reason:      "test",
		ModeratorID: "42",
		Duration:    duration,
	})
	require.NoError(t, err)
	return p
}
