package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Warning indexes
			CREATE INDEX IF NOT EXISTS idx_warnings_guild_active
			ON warnings (guild_id, timestamp DESC)
			WHERE active;

			CREATE INDEX IF NOT EXISTS idx_warnings_member_active
			ON warnings (guild_id, user_id)
			WHERE active;

			-- Punishment indexes
			CREATE INDEX IF NOT EXISTS idx_punishments_guild_active
			ON punishments (guild_id, timestamp DESC)
			WHERE active;

			CREATE INDEX IF NOT EXISTS idx_punishments_due
			ON punishments (expires_at ASC)
			WHERE active AND expires_at IS NOT NULL;

			CREATE INDEX IF NOT EXISTS idx_punishments_failed
			ON punishments (timestamp ASC)
			WHERE active AND enforcement_failed;

			-- At most one active mute per member
			CREATE UNIQUE INDEX IF NOT EXISTS idx_punishments_active_mute
			ON punishments (guild_id, user_id)
			WHERE active AND type = ?;

			-- Moderation log pagination
			CREATE INDEX IF NOT EXISTS idx_moderation_logs_guild_time
			ON moderation_logs (guild_id, timestamp DESC, id DESC);
		`, enum.PunishmentTypeMute).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_warnings_guild_active;
			DROP INDEX IF EXISTS idx_warnings_member_active;
			DROP INDEX IF EXISTS idx_punishments_guild_active;
			DROP INDEX IF EXISTS idx_punishments_due;
			DROP INDEX IF EXISTS idx_punishments_failed;
			DROP INDEX IF EXISTS idx_punishments_active_mute;
			DROP INDEX IF EXISTS idx_moderation_logs_guild_time;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
