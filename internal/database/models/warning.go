package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/warden/internal/database/dbretry"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// WarningModel handles database operations for warnings.
type WarningModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewWarning creates a new warning model instance.
func NewWarning(db *bun.DB, logger *zap.Logger) *WarningModel {
	return &WarningModel{
		db:     db,
		logger: logger.Named("db_warning"),
	}
}

// Add stores a new warning.
func (m *WarningModel) Add(ctx context.Context, warning *types.Warning) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().Model(warning).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert warning: %w (id=%s)", err, warning.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Debug("Added warning",
		zap.String("id", warning.ID),
		zap.Uint64("guildID", warning.GuildID),
		zap.Uint64("userID", warning.UserID))

	return nil
}

// Deactivate marks an active warning inactive.
// Returns false without error when the warning was already inactive.
func (m *WarningModel) Deactivate(ctx context.Context, id string) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		res, err := m.db.NewUpdate().
			Model((*types.Warning)(nil)).
			Set("active = FALSE").
			Where("id = ?", id).
			Where("active").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to deactivate warning: %w (id=%s)", err, id)
		}

		return changedOrMissing(ctx, m.db, (*types.Warning)(nil), id, res)
	})
}

// Get retrieves a warning by ID.
func (m *WarningModel) Get(ctx context.Context, id string) (*types.Warning, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Warning, error) {
		var warning types.Warning

		err := m.db.NewSelect().
			Model(&warning).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get warning: %w (id=%s)", err, id)
		}

		return &warning, nil
	})
}

// ListActive returns a guild's active warnings, newest first.
func (m *WarningModel) ListActive(ctx context.Context, guildID uint64) ([]*types.Warning, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Warning, error) {
		warnings := make([]*types.Warning, 0)

		err := m.db.NewSelect().
			Model(&warnings).
			Where("guild_id = ?", guildID).
			Where("active").
			Order("timestamp DESC", "id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active warnings: %w (guildID=%d)", err, guildID)
		}

		return warnings, nil
	})
}

// CountActive returns the number of active warnings a member holds.
func (m *WarningModel) CountActive(ctx context.Context, guildID, userID uint64) (int, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		count, err := m.db.NewSelect().
			Model((*types.Warning)(nil)).
			Where("guild_id = ?", guildID).
			Where("user_id = ?", userID).
			Where("active").
			Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count active warnings: %w (guildID=%d, userID=%d)", err, guildID, userID)
		}

		return count, nil
	})
}

// changedOrMissing turns the result of a conditional update into a CAS outcome.
// When no row changed it checks whether the record exists at all.
func changedOrMissing(ctx context.Context, db bun.IDB, model any, id string, res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	exists, err := db.NewSelect().Model(model).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w (id=%s)", err, id)
	}
	if !exists {
		return false, types.ErrNotFound
	}

	return false, nil
}
