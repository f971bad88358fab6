package moderation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// DefaultChannelPrefix is the Redis channel prefix events are published under.
const DefaultChannelPrefix = "warden:events:"

// RedisPublisher publishes events as JSON on a per-guild Redis channel.
type RedisPublisher struct {
	client rueidis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher using the given channel prefix.
func NewRedisPublisher(client rueidis.Client, prefix string, logger *zap.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: logger.Named("event_publisher"),
	}
}

// Channel returns the channel events of the guild are published on.
func (p *RedisPublisher) Channel(guildID uint64) string {
	return p.prefix + strconv.FormatUint(guildID, 10)
}

// Emit publishes the event.
func (p *RedisPublisher) Emit(ctx context.Context, event *Event) error {
	payload, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	channel := p.Channel(event.GuildID)
	cmd := p.client.B().Publish().Channel(channel).Message(rueidis.BinaryString(payload)).Build()

	receivers, err := p.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published event",
		zap.String("channel", channel),
		zap.String("type", string(event.Type)),
		zap.Int64("receivers", receivers))

	return nil
}
