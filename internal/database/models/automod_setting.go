package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// AutoModSettingModel stores guild auto-moderation configurations.
// It implements automod.ConfigSource.
type AutoModSettingModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewAutoModSetting creates a new auto-mod setting model instance.
func NewAutoModSetting(db *bun.DB, logger *zap.Logger) *AutoModSettingModel {
	return &AutoModSettingModel{
		db:     db,
		logger: logger.Named("db_automod_setting"),
	}
}

// Get returns the guild's stored configuration or the defaults if none is stored.
func (m *AutoModSettingModel) Get(ctx context.Context, guildID uint64) (*automod.Config, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*automod.Config, error) {
		setting := &types.AutoModSetting{GuildID: guildID}

		err := m.db.NewSelect().
			Model(setting).
			WherePK().
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return automod.DefaultConfig(), nil
			}
			return nil, fmt.Errorf("failed to get automod settings: %w (guildID=%d)", err, guildID)
		}

		return &setting.Config, nil
	})
}

// Put creates or replaces the guild's configuration.
func (m *AutoModSettingModel) Put(ctx context.Context, guildID uint64, cfg *automod.Config) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		setting := &types.AutoModSetting{
			GuildID:   guildID,
			Config:    *cfg,
			UpdatedAt: time.Now(),
		}

		_, err := m.db.NewInsert().
			Model(setting).
			On("CONFLICT (guild_id) DO UPDATE").
			Set("config = EXCLUDED.config").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save automod settings: %w (guildID=%d)", err, guildID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Saved automod settings", zap.Uint64("guildID", guildID))
	return nil
}
