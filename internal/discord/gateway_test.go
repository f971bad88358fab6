package discord_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	disgo "github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/discord"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type blockingHandler struct {
	release  chan struct{}
	running  atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	messages []*moderation.MessageEvent
	joins    []*moderation.JoinEvent
}

func (h *blockingHandler) enter() {
	n := h.running.Add(1)
	for {
		peak := h.peak.Load()
		if n <= peak || h.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-h.release
	h.running.Add(-1)
}

func (h *blockingHandler) HandleMessage(
	_ context.Context, ev *moderation.MessageEvent,
) (*moderation.MessageResult, error) {
	h.enter()
	h.mu.Lock()
	h.messages = append(h.messages, ev)
	h.mu.Unlock()
	return nil, nil
}

func (h *blockingHandler) HandleJoin(_ context.Context, ev *moderation.JoinEvent) (automod.RaidState, error) {
	h.enter()
	h.mu.Lock()
	h.joins = append(h.joins, ev)
	h.mu.Unlock()
	return automod.RaidState{}, nil
}

type panicHandler struct{}

func (panicHandler) HandleMessage(context.Context, *moderation.MessageEvent) (*moderation.MessageResult, error) {
	panic("boom")
}

func (panicHandler) HandleJoin(context.Context, *moderation.JoinEvent) (automod.RaidState, error) {
	panic("boom")
}

func TestListenerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	handler := &blockingHandler{release: make(chan struct{})}
	listener := discord.NewListener(handler, 2, zap.NewNop())

	go func() {
		for i := range 5 {
			listener.OnMessage(t.Context(), &moderation.MessageEvent{GuildID: 1, UserID: uint64(i)})
		}
	}()

	assert.Eventually(t, func() bool { return handler.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(handler.release)

	assert.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.messages) == 5
	}, time.Second, 5*time.Millisecond)

	listener.Wait()
	assert.LessOrEqual(t, handler.peak.Load(), int32(2))
}

func TestListenerRecoversFromPanics(t *testing.T) {
	t.Parallel()

	listener := discord.NewListener(panicHandler{}, 1, zap.NewNop())

	listener.OnMessage(t.Context(), &moderation.MessageEvent{})
	listener.OnJoin(t.Context(), &moderation.JoinEvent{})
	listener.Wait()
}

func TestListenerDropsAfterCancel(t *testing.T) {
	t.Parallel()

	handler := &blockingHandler{release: make(chan struct{})}
	close(handler.release)
	listener := discord.NewListener(handler, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	listener.OnJoin(ctx, &moderation.JoinEvent{GuildID: 1})
	listener.Wait()

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Empty(t, handler.joins)
}

func TestEventConversion(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := disgo.Message{
		ID:        snowflake.ID(4),
		ChannelID: snowflake.ID(3),
		Content:   "hello",
		CreatedAt: created,
		Author:    disgo.User{ID: snowflake.ID(2), Bot: true},
	}

	ev := discord.MessageEventFrom(snowflake.ID(1), msg)
	require.NotNil(t, ev)
	assert.Equal(t, moderation.MessageEvent{
		GuildID:   1,
		UserID:    2,
		ChannelID: 3,
		MessageID: 4,
		Content:   "hello",
		Timestamp: created,
		Bot:       true,
	}, *ev)

	join := discord.JoinEventFrom(snowflake.ID(1), disgo.Member{User: disgo.User{ID: snowflake.ID(5)}}, created)
	assert.Equal(t, moderation.JoinEvent{GuildID: 1, UserID: 5, Timestamp: created}, *join)
}
