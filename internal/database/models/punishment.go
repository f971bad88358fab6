package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// maxSupersedeAttempts bounds retries when another process inserts a mute concurrently.
const maxSupersedeAttempts = 2

// PunishmentModel handles database operations for punishments.
type PunishmentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPunishment creates a new punishment model instance.
func NewPunishment(db *bun.DB, logger *zap.Logger) *PunishmentModel {
	return &PunishmentModel{
		db:     db,
		logger: logger.Named("db_punishment"),
	}
}

// Add stores a punishment. An active mute first deactivates the member's
// previous active mutes in the same transaction and returns them.
func (m *PunishmentModel) Add(ctx context.Context, punishment *types.Punishment) ([]*types.Punishment, error) {
	if punishment.Type != enum.PunishmentTypeMute || !punishment.Active {
		err := dbretry.NoResult(ctx, func(ctx context.Context) error {
			_, err := m.db.NewInsert().Model(punishment).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to insert punishment: %w (id=%s)", err, punishment.ID)
			}
			return nil
		})
		return nil, err
	}

	var (
		superseded []*types.Punishment
		err        error
	)
	for range maxSupersedeAttempts {
		superseded, err = m.replaceMute(ctx, punishment)
		if err == nil || !dbretry.IsUniqueViolation(err) {
			break
		}
		m.logger.Warn("Concurrent mute insert detected, retrying",
			zap.Uint64("guildID", punishment.GuildID),
			zap.Uint64("userID", punishment.UserID))
	}
	if err != nil {
		return nil, err
	}

	if len(superseded) > 0 {
		m.logger.Debug("Superseded previous mutes",
			zap.String("id", punishment.ID),
			zap.Int("count", len(superseded)))
	}

	return superseded, nil
}

func (m *PunishmentModel) replaceMute(ctx context.Context, punishment *types.Punishment) ([]*types.Punishment, error) {
	var superseded []*types.Punishment

	err := dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		superseded = superseded[:0]

		err := tx.NewSelect().
			Model(&superseded).
			Where("guild_id = ?", punishment.GuildID).
			Where("user_id = ?", punishment.UserID).
			Where("type = ?", enum.PunishmentTypeMute).
			Where("active").
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to lock active mutes: %w", err)
		}

		if len(superseded) > 0 {
			ids := make([]string, len(superseded))
			for i, p := range superseded {
				ids[i] = p.ID
			}

			_, err = tx.NewUpdate().
				Model((*types.Punishment)(nil)).
				Set("active = FALSE").
				Set("revoking_since = NULL").
				Set("deactivated_at = ?", punishment.Timestamp).
				Set("deactivation_reason = ?", types.SupersededReason).
				Where("id IN (?)", bun.In(ids)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to supersede mutes: %w", err)
			}
		}

		if _, err := tx.NewInsert().Model(punishment).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert mute: %w (id=%s)", err, punishment.ID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range superseded {
		at := punishment.Timestamp
		p.Active = false
		p.RevokingSince = nil
		p.DeactivatedAt = &at
		p.DeactivationReason = types.SupersededReason
	}

	return superseded, nil
}

// Deactivate marks an active punishment inactive and releases any lease on it.
// Returns false without error when the punishment was already inactive.
func (m *PunishmentModel) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		res, err := m.db.NewUpdate().
			Model((*types.Punishment)(nil)).
			Set("active = FALSE").
			Set("revoking_since = NULL").
			Set("deactivated_at = ?", at).
			Set("deactivation_reason = ?", reason).
			Where("id = ?", id).
			Where("active").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to deactivate punishment: %w (id=%s)", err, id)
		}

		return changedOrMissing(ctx, m.db, (*types.Punishment)(nil), id, res)
	})
}

// Get retrieves a punishment by ID.
func (m *PunishmentModel) Get(ctx context.Context, id string) (*types.Punishment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Punishment, error) {
		var punishment types.Punishment

		err := m.db.NewSelect().
			Model(&punishment).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get punishment: %w (id=%s)", err, id)
		}

		return &punishment, nil
	})
}

// ListActive returns a guild's active punishments, newest first.
func (m *PunishmentModel) ListActive(ctx context.Context, guildID uint64) ([]*types.Punishment, error) {
	return m.list(ctx, "active punishments", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("guild_id = ?", guildID).
			Where("active").
			Order("timestamp DESC", "id ASC")
	})
}

// ListDue returns active punishments whose expiry passed and whose lease is free or stale.
func (m *PunishmentModel) ListDue(
	ctx context.Context, now, leaseCutoff time.Time, limit int,
) ([]*types.Punishment, error) {
	return m.list(ctx, "due punishments", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("active").
			Where("expires_at IS NOT NULL").
			Where("expires_at <= ?", now).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("revoking_since IS NULL").
					WhereOr("revoking_since <= ?", leaseCutoff)
			}).
			Order("expires_at ASC", "id ASC").
			Limit(limit)
	})
}

// ListFailed returns unexpired active mutes and bans whose enforcement failed.
func (m *PunishmentModel) ListFailed(ctx context.Context, now time.Time, limit int) ([]*types.Punishment, error) {
	return m.list(ctx, "failed punishments", func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("active").
			Where("enforcement_failed").
			Where("type IN (?)", bun.In([]enum.PunishmentType{enum.PunishmentTypeMute, enum.PunishmentTypeBan})).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("expires_at IS NULL").
					WhereOr("expires_at > ?", now)
			}).
			Order("timestamp ASC", "id ASC").
			Limit(limit)
	})
}

// ClaimRevoking sets the sweep lease on a due punishment if no fresh lease exists.
func (m *PunishmentModel) ClaimRevoking(ctx context.Context, id string, now, leaseCutoff time.Time) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		res, err := m.db.NewUpdate().
			Model((*types.Punishment)(nil)).
			Set("revoking_since = ?", now).
			Where("id = ?", id).
			Where("active").
			Where("expires_at <= ?", now).
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.Where("revoking_since IS NULL").
					WhereOr("revoking_since <= ?", leaseCutoff)
			}).
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to claim punishment: %w (id=%s)", err, id)
		}

		return changedOrMissing(ctx, m.db, (*types.Punishment)(nil), id, res)
	})
}

// ReleaseRevoking clears the sweep lease.
func (m *PunishmentModel) ReleaseRevoking(ctx context.Context, id string) error {
	return m.update(ctx, id, "release lease", func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("revoking_since = NULL")
	})
}

// MarkEnforcementFailed flags a punishment whose enforcement failed and releases its lease.
func (m *PunishmentModel) MarkEnforcementFailed(ctx context.Context, id, message string) error {
	return m.update(ctx, id, "mark enforcement failed", func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("revoking_since = NULL").
			Set("enforcement_failed = TRUE").
			Set("retry_count = retry_count + 1").
			Set("last_error = ?", message)
	})
}

// ClearEnforcementFailed removes the failure flag after a successful retry.
func (m *PunishmentModel) ClearEnforcementFailed(ctx context.Context, id string) error {
	return m.update(ctx, id, "clear enforcement failure", func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("enforcement_failed = FALSE").
			Set("last_error = ''")
	})
}

func (m *PunishmentModel) list(
	ctx context.Context, what string, build func(q *bun.SelectQuery) *bun.SelectQuery,
) ([]*types.Punishment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Punishment, error) {
		punishments := make([]*types.Punishment, 0)

		err := build(m.db.NewSelect().Model(&punishments)).Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", what, err)
		}

		return punishments, nil
	})
}

func (m *PunishmentModel) update(
	ctx context.Context, id, what string, build func(q *bun.UpdateQuery) *bun.UpdateQuery,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := build(m.db.NewUpdate().Model((*types.Punishment)(nil))).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to %s: %w (id=%s)", what, err, id)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return types.ErrNotFound
		}

		return nil
	})
}
