package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/automod"
	"go.uber.org/zap"
)

// MaxTimeout is the longest communication timeout Discord accepts.
const MaxTimeout = automod.MaxMuteDuration

// DefaultSlowmodeSeconds is used when no slowmode delay is configured.
const DefaultSlowmodeSeconds = 10

// Enforcer carries moderation actions out through the Discord REST API.
// Mutes map to member timeouts. Lifting something that is already gone succeeds.
type Enforcer struct {
	api      API
	slowmode int
	logger   *zap.Logger
}

// NewEnforcer creates an enforcer using the given REST client.
func NewEnforcer(api API, slowmodeSeconds int, logger *zap.Logger) *Enforcer {
	if slowmodeSeconds <= 0 {
		slowmodeSeconds = DefaultSlowmodeSeconds
	}

	return &Enforcer{
		api:      api,
		slowmode: slowmodeSeconds,
		logger:   logger.Named("discord_enforcer"),
	}
}

// Mute times the member out. Mutes never outlast MaxTimeout, which the
// moderation service and config validation reject beyond.
func (e *Enforcer) Mute(ctx context.Context, guildID, userID uint64, duration time.Duration, reason string) error {
	until := TimeoutUntil(time.Now(), duration)

	_, err := e.api.UpdateMember(
		snowflake.ID(guildID), snowflake.ID(userID),
		discord.MemberUpdate{CommunicationDisabledUntil: json.NewNullablePtr(until)},
		rest.WithCtx(ctx), rest.WithReason(reason),
	)
	if err != nil {
		return fmt.Errorf("failed to time out member: %w", err)
	}

	e.logger.Debug("Timed out member",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Time("until", until))
	return nil
}

func (e *Enforcer) Unmute(ctx context.Context, guildID, userID uint64) error {
	_, err := e.api.UpdateMember(
		snowflake.ID(guildID), snowflake.ID(userID),
		discord.MemberUpdate{CommunicationDisabledUntil: json.NullPtr[time.Time]()},
		rest.WithCtx(ctx),
	)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to remove timeout: %w", err)
	}
	return nil
}

func (e *Enforcer) Kick(ctx context.Context, guildID, userID uint64, reason string) error {
	err := e.api.RemoveMember(snowflake.ID(guildID), snowflake.ID(userID), rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to kick member: %w", err)
	}
	return nil
}

func (e *Enforcer) Ban(ctx context.Context, guildID, userID uint64, reason string) error {
	err := e.api.AddBan(snowflake.ID(guildID), snowflake.ID(userID), 0, rest.WithCtx(ctx), rest.WithReason(reason))
	if err != nil {
		return fmt.Errorf("failed to ban member: %w", err)
	}
	return nil
}

func (e *Enforcer) Unban(ctx context.Context, guildID, userID uint64) error {
	err := e.api.DeleteBan(snowflake.ID(guildID), snowflake.ID(userID), rest.WithCtx(ctx))
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to unban member: %w", err)
	}
	return nil
}

func (e *Enforcer) DeleteMessage(ctx context.Context, channelID, messageID uint64) error {
	err := e.api.DeleteMessage(snowflake.ID(channelID), snowflake.ID(messageID), rest.WithCtx(ctx))
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// EnableSlowmode sets the channel's per-user rate limit to the configured delay.
func (e *Enforcer) EnableSlowmode(ctx context.Context, channelID uint64) error {
	seconds := e.slowmode
	_, err := e.api.UpdateChannel(
		snowflake.ID(channelID),
		discord.GuildTextChannelUpdate{RateLimitPerUser: &seconds},
		rest.WithCtx(ctx), rest.WithReason("raid detected"),
	)
	if err != nil {
		return fmt.Errorf("failed to enable slowmode: %w", err)
	}
	return nil
}

// TimeoutUntil returns when a timeout for the duration starting at now should end.
// Discord caps timeouts, so zero and longer durations end at now plus MaxTimeout.
func TimeoutUntil(now time.Time, duration time.Duration) time.Time {
	if duration <= 0 || duration > MaxTimeout {
		duration = MaxTimeout
	}
	return now.Add(duration)
}
