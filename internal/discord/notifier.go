package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/discord/rate"
	"github.com/robalyx/warden/internal/moderation"
	"go.uber.org/zap"
)

const (
	notifyQueueSize = 256
	guildNameCache  = 512

	// DM pacing keeps bursts of automated actions from tripping Discord's spam detection.
	dmInterval = 800 * time.Millisecond
	dmJitter   = 200 * time.Millisecond
)

// ErrNotifyQueueFull is returned when a notification is dropped because the queue is full.
var ErrNotifyQueueFull = errors.New("notification queue is full")

var actionColors = map[enum.LogAction]int{ //nolint:gochecknoglobals // -
	enum.LogActionWarn: 0xF1C40F,
	enum.LogActionMute: 0xE67E22,
	enum.LogActionKick: 0xE74C3C,
	enum.LogActionBan:  0x992D22,
}

// Notifier direct-messages members about actions taken against them.
// Events are queued by Emit and delivered by Run.
type Notifier struct {
	api     API
	limiter *rate.Limiter
	names   *lru.Cache[uint64, string]
	queue   chan *moderation.Event
	logger  *zap.Logger
}

// NewNotifier creates a notifier sending through the given REST client.
func NewNotifier(api API, logger *zap.Logger) *Notifier {
	names, _ := lru.New[uint64, string](guildNameCache)

	return &Notifier{
		api:     api,
		limiter: rate.New(dmInterval, dmJitter),
		names:   names,
		queue:   make(chan *moderation.Event, notifyQueueSize),
		logger:  logger.Named("notifier"),
	}
}

// Emit queues a DM for warn, mute, kick and ban events. Other events are ignored.
func (n *Notifier) Emit(_ context.Context, event *moderation.Event) error {
	if _, ok := actionColors[event.Type]; !ok {
		return nil
	}

	select {
	case n.queue <- event:
		return nil
	default:
		return ErrNotifyQueueFull
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			if err := n.Send(ctx, event); err != nil {
				n.logger.Warn("Failed to notify member",
					zap.Uint64("guildID", event.GuildID),
					zap.Uint64("userID", event.TargetID),
					zap.String("action", string(event.Type)),
					zap.Error(err))
			}
		}
	}
}

// Send delivers a single notification immediately.
func (n *Notifier) Send(ctx context.Context, event *moderation.Event) error {
	channel, err := n.api.CreateDMChannel(snowflake.ID(event.TargetID), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel: %w", err)
	}

	embed := n.buildEmbed(ctx, event)
	_, err = n.api.CreateMessage(channel.ID(), discord.NewMessageCreateBuilder().
		SetEmbeds(embed).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send DM: %w", err)
	}

	return nil
}

func (n *Notifier) buildEmbed(ctx context.Context, event *moderation.Event) discord.Embed {
	guildName := n.guildName(ctx, event.GuildID)

	builder := discord.NewEmbedBuilder().
		SetTitle(titleFor(event.Type)).
		SetDescription(fmt.Sprintf("Server: **%s**", guildName)).
		SetColor(actionColors[event.Type]).
		AddField("Reason", event.Reason, false).
		SetTimestamp(event.Timestamp)

	if event.ExpiresAt != nil {
		builder.AddField("Expires", fmt.Sprintf("<t:%d:R>", event.ExpiresAt.Unix()), true)
	} else if event.Type == enum.LogActionMute || event.Type == enum.LogActionBan {
		builder.AddField("Expires", "Never", true)
	}

	if event.IsAutoMod() {
		builder.SetFooterText("Automatic moderation")
	}

	return builder.Build()
}

// guildName resolves and caches a guild's display name, falling back to its ID.
func (n *Notifier) guildName(ctx context.Context, guildID uint64) string {
	if name, ok := n.names.Get(guildID); ok {
		return name
	}

	guild, err := n.api.GetGuild(snowflake.ID(guildID), false, rest.WithCtx(ctx))
	if err != nil {
		n.logger.Debug("Failed to fetch guild", zap.Uint64("guildID", guildID), zap.Error(err))
		return snowflake.ID(guildID).String()
	}

	n.names.Add(guildID, guild.Name)
	return guild.Name
}

func titleFor(action enum.LogAction) string {
	switch action {
	case enum.LogActionWarn:
		return "You have been warned"
	case enum.LogActionMute:
		return "You have been muted"
	case enum.LogActionKick:
		return "You have been kicked"
	case enum.LogActionBan:
		return "You have been banned"
	default:
		return string(action)
	}
}
