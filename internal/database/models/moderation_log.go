package models

import (
	"context"
	"fmt"

	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ModerationLogModel handles database operations for the moderation log.
type ModerationLogModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewModerationLog creates a new moderation log model instance.
func NewModerationLog(db *bun.DB, logger *zap.Logger) *ModerationLogModel {
	return &ModerationLogModel{
		db:     db,
		logger: logger.Named("db_moderation_log"),
	}
}

// Append stores a log entry and sets its generated ID.
func (m *ModerationLogModel) Append(ctx context.Context, entry *types.ModerationLog) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(entry).
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to append moderation log: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Appended moderation log",
		zap.Int64("id", entry.ID),
		zap.Uint64("guildID", entry.GuildID),
		zap.String("action", string(entry.Action)))

	return nil
}

// List retrieves a guild's log entries, newest first, with cursor pagination.
func (m *ModerationLogModel) List(
	ctx context.Context, guildID uint64, cursor *types.LogCursor, limit int,
) ([]*types.ModerationLog, *types.LogCursor, error) {
	var (
		logs       []*types.ModerationLog
		nextCursor *types.LogCursor
	)

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		logs = make([]*types.ModerationLog, 0, limit+1)
		nextCursor = nil

		query := m.db.NewSelect().
			Model(&logs).
			Where("guild_id = ?", guildID).
			Limit(limit + 1) // One extra to detect the next page

		if cursor != nil {
			query = query.Where("(timestamp, id) <= (?, ?)", cursor.Timestamp, cursor.ID)
		}

		err := query.Order("timestamp DESC", "id DESC").Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to list moderation logs: %w (guildID=%d)", err, guildID)
		}

		if len(logs) > limit {
			last := logs[limit]
			nextCursor = &types.LogCursor{Timestamp: last.Timestamp, ID: last.ID}
			logs = logs[:limit]
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return logs, nextCursor, nil
}
