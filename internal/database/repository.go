package database

import (
	"github.com/robalyx/warden/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	warning    *models.WarningModel
	punishment *models.PunishmentModel
	log        *models.ModerationLogModel
	automod    *models.AutoModSettingModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		warning:    models.NewWarning(db, logger),
		punishment: models.NewPunishment(db, logger),
		log:        models.NewModerationLog(db, logger),
		automod:    models.NewAutoModSetting(db, logger),
	}
}

// Warning returns the warning model repository.
func (r *Repository) Warning() *models.WarningModel {
	return r.warning
}

// Punishment returns the punishment model repository.
func (r *Repository) Punishment() *models.PunishmentModel {
	return r.punishment
}

// Log returns the moderation log model repository.
func (r *Repository) Log() *models.ModerationLogModel {
	return r.log
}

// AutoMod returns the auto-mod setting model repository.
func (r *Repository) AutoMod() *models.AutoModSettingModel {
	return r.automod
}
