package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/moderation"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentEvents bounds in-flight event handlers when unset.
const DefaultMaxConcurrentEvents = 64

// Handler receives platform events. It is satisfied by moderation.Dispatcher.
type Handler interface {
	HandleMessage(ctx context.Context, ev *moderation.MessageEvent) (*moderation.MessageResult, error)
	HandleJoin(ctx context.Context, ev *moderation.JoinEvent) (automod.RaidState, error)
}

// Listener runs events through a handler with bounded concurrency.
// Acquiring a slot blocks the caller, which applies backpressure to the gateway.
type Listener struct {
	handler Handler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewListener creates a listener allowing up to maxConcurrent handlers at once.
func NewListener(handler Handler, maxConcurrent int64, logger *zap.Logger) *Listener {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentEvents
	}

	return &Listener{
		handler: handler,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger.Named("listener"),
	}
}

// OnMessage handles a message in the background.
func (l *Listener) OnMessage(ctx context.Context, ev *moderation.MessageEvent) {
	l.spawn(ctx, "message", func(ctx context.Context) error {
		result, err := l.handler.HandleMessage(ctx, ev)
		if result != nil && result.Violation != nil {
			l.logger.Info("Auto-mod violation",
				zap.Uint64("guildID", ev.GuildID),
				zap.Uint64("userID", ev.UserID),
				zap.String("rule", string(result.Violation.Rule)),
				zap.Bool("deleted", result.MessageDeleted))
		}
		return err
	})
}

// OnJoin handles a member join in the background.
func (l *Listener) OnJoin(ctx context.Context, ev *moderation.JoinEvent) {
	l.spawn(ctx, "join", func(ctx context.Context) error {
		_, err := l.handler.HandleJoin(ctx, ev)
		return err
	})
}

// Wait blocks until every running handler has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) spawn(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.logger.Debug("Dropped event during shutdown", zap.String("kind", kind))
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("Event handler panicked",
					zap.String("kind", kind),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()

		if err := fn(ctx); err != nil {
			l.logger.Error("Failed to handle event", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// Gateway connects to Discord and feeds guild messages and member joins into a Listener.
// The REST client is usable before the gateway is opened.
type Gateway struct {
	client   bot.Client
	listener *Listener
	logger   *zap.Logger
	ctx      context.Context //nolint:containedctx // handlers outlive the gateway callbacks
}

// NewGateway creates a Discord client with the intents needed for auto-mod.
func NewGateway(token string, logger *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		logger: logger.Named("gateway"),
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildMembers,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMessageCreate: g.onMessageCreate,
			OnGuildMemberJoin:    g.onMemberJoin,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord client: %w", err)
	}
	g.client = client

	return g, nil
}

// Rest returns the REST client shared with the gateway.
func (g *Gateway) Rest() rest.Rest {
	return g.client.Rest()
}

// Open connects to the gateway and starts delivering events to handler.
// Handlers run under ctx, at most maxConcurrent at a time.
func (g *Gateway) Open(ctx context.Context, handler Handler, maxConcurrent int64) error {
	g.ctx = ctx
	g.listener = NewListener(handler, maxConcurrent, g.logger)

	if err := g.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	g.logger.Info("Connected to Discord gateway")
	return nil
}

// Close disconnects from the gateway and waits for running handlers.
func (g *Gateway) Close(ctx context.Context) {
	g.client.Close(ctx)
	if g.listener != nil {
		g.listener.Wait()
	}
	g.logger.Info("Disconnected from Discord gateway")
}

func (g *Gateway) onMessageCreate(e *events.GuildMessageCreate) {
	g.listener.OnMessage(g.ctx, MessageEventFrom(e.GuildID, e.Message))
}

func (g *Gateway) onMemberJoin(e *events.GuildMemberJoin) {
	g.listener.OnJoin(g.ctx, JoinEventFrom(e.GuildID, e.Member, time.Now()))
}

// MessageEventFrom converts a Discord guild message.
func MessageEventFrom(guildID snowflake.ID, msg discord.Message) *moderation.MessageEvent {
	return &moderation.MessageEvent{
		GuildID:   uint64(guildID),
		UserID:    uint64(msg.Author.ID),
		ChannelID: uint64(msg.ChannelID),
		MessageID: uint64(msg.ID),
		Content:   msg.Content,
		Timestamp: msg.CreatedAt,
		Bot:       msg.Author.Bot,
	}
}

// JoinEventFrom converts a Discord member join observed at the given time.
func JoinEventFrom(guildID snowflake.ID, member discord.Member, at time.Time) *moderation.JoinEvent {
	return &moderation.JoinEvent{
		GuildID:   uint64(guildID),
		UserID:    uint64(member.User.ID),
		Timestamp: at,
	}
}
