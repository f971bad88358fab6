package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"go.uber.org/zap"
)

// MessageEvent is a chat message delivered by the event source.
type MessageEvent struct {
	GuildID   uint64
	UserID    uint64
	ChannelID uint64
	MessageID uint64
	Content   string
	Timestamp time.Time
	Bot       bool
}

// JoinEvent is a member join delivered by the event source.
type JoinEvent struct {
	GuildID   uint64
	UserID    uint64
	Timestamp time.Time
}

// MessageResult describes what the dispatcher did with a message.
type MessageResult struct {
	Violation      *automod.Violation
	Outcome        *Outcome
	MessageDeleted bool
}

// Dispatcher runs incoming events through auto-mod and acts on violations.
type Dispatcher struct {
	svc       *Service
	evaluator *automod.Evaluator
	joins     *automod.JoinDetector
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher acting through the service.
func NewDispatcher(svc *Service, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		svc:       svc,
		evaluator: automod.NewEvaluator(),
		joins:     automod.NewJoinDetector(),
		logger:    logger.Named("dispatcher"),
	}
}

// HandleMessage evaluates a message and carries out the resulting action.
// It returns nil when the message broke no rule.
func (d *Dispatcher) HandleMessage(ctx context.Context, ev *MessageEvent) (*MessageResult, error) {
	if ev.Bot {
		return nil, nil
	}

	cfg, err := d.svc.GetConfig(ctx, ev.GuildID)
	if err != nil {
		return nil, err
	}

	unlock := d.svc.locks.Lock(ev.GuildID, ev.UserID)
	defer unlock()

	violation := d.evaluator.Evaluate(&automod.Message{
		GuildID:   ev.GuildID,
		UserID:    ev.UserID,
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
	}, cfg)
	if violation == nil {
		return nil, nil
	}

	violationsTotal.WithLabelValues(string(violation.Rule)).Inc()

	intent, err := automod.Resolve(violation, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s violation: %w", violation.Rule, err)
	}

	result := &MessageResult{Violation: violation}
	result.Outcome, err = d.svc.applyIntentLocked(ctx, cfg, ev.GuildID, ev.UserID, intent, types.SystemModeratorID)

	if intent.DeleteMessage && ev.ChannelID != 0 && ev.MessageID != 0 {
		result.MessageDeleted = d.deleteMessage(ctx, ev, violation)
	}

	if err != nil {
		return result, err
	}

	d.logger.Debug("Handled violation",
		zap.Uint64("guildID", ev.GuildID),
		zap.Uint64("userID", ev.UserID),
		zap.String("rule", string(violation.Rule)),
		zap.String("action", string(intent.Action)))

	return result, nil
}

// HandleJoin records a join and acts on the start of a raid.
func (d *Dispatcher) HandleJoin(ctx context.Context, ev *JoinEvent) (automod.RaidState, error) {
	cfg, err := d.svc.GetConfig(ctx, ev.GuildID)
	if err != nil {
		return automod.RaidState{}, err
	}
	if !cfg.AntiRaid.Enabled {
		return automod.RaidState{}, nil
	}

	state := d.joins.OnJoin(ev.GuildID, ev.Timestamp, cfg.AntiRaid)
	if !state.Triggered {
		if state.Count > cfg.AntiRaid.MaxJoins {
			suppressedTotal.WithLabelValues("raid").Inc()
			d.logger.Debug("Raid already reported",
				zap.Uint64("guildID", ev.GuildID),
				zap.Int("joins", state.Count),
				zap.Error(ErrDuplicateSuppressed))
		}
		return state, nil
	}

	raid := cfg.AntiRaid
	raidsTotal.WithLabelValues(string(raid.Action)).Inc()
	reason := fmt.Sprintf("%d joins within %s (%s)", state.Count, raid.Window(), raid.Action)

	d.logger.Warn("Raid detected",
		zap.Uint64("guildID", ev.GuildID),
		zap.Int("joins", state.Count),
		zap.String("action", string(raid.Action)))

	if raid.Action == enum.RaidActionLockdown {
		for _, channelID := range raid.LockdownChannelIDs {
			err := callWithTimeout(ctx, d.svc.timeout, "slowmode", func(ctx context.Context) error {
				return d.svc.enforcement.EnableSlowmode(ctx, uint64(channelID))
			})
			if err != nil {
				d.logger.Error("Failed to enable slowmode",
					zap.Uint64("guildID", ev.GuildID),
					zap.Uint64("channelID", uint64(channelID)),
					zap.Error(err))
			}
		}
	}

	err = d.svc.record(ctx, &logRecord{
		guildID:     ev.GuildID,
		action:      enum.LogActionRaidDetected,
		targetID:    ev.GuildID,
		moderatorID: types.SystemModeratorID,
		reason:      reason,
	})

	return state, err
}

// PruneIdle drops rate windows that saw no event after the cutoff.
func (d *Dispatcher) PruneIdle(cutoff time.Time) {
	windows := d.evaluator.PruneIdle(cutoff)
	guilds := d.joins.PruneIdle(cutoff)

	if windows > 0 || guilds > 0 {
		d.logger.Debug("Pruned idle rate windows",
			zap.Int("members", windows),
			zap.Int("guilds", guilds))
	}
}

// RunJanitor prunes rate windows idle for longer than idle until the context ends.
func (d *Dispatcher) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PruneIdle(d.svc.now().Add(-idle))
		}
	}
}

func (d *Dispatcher) deleteMessage(ctx context.Context, ev *MessageEvent, violation *automod.Violation) bool {
	err := callWithTimeout(ctx, d.svc.timeout, "delete_message", func(ctx context.Context) error {
		return d.svc.enforcement.DeleteMessage(ctx, ev.ChannelID, ev.MessageID)
	})
	if err != nil {
		d.logger.Warn("Failed to delete message",
			zap.Uint64("channelID", ev.ChannelID),
			zap.Uint64("messageID", ev.MessageID),
			zap.Error(err))
		return false
	}

	if err := d.svc.record(ctx, &logRecord{
		guildID:     ev.GuildID,
		action:      enum.LogActionMessageDeleted,
		targetID:    ev.UserID,
		moderatorID: types.SystemModeratorID,
		reason:      violation.Reason,
	}); err != nil {
		d.logger.Error("Failed to log message deletion", zap.Error(err))
	}

	return true
}
