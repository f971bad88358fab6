package types

import (
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/worker"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AddWarningRequest issues a warning.
type AddWarningRequest struct {
	UserID      uint64 `json:"userId,string"`
	Reason      string `json:"reason"`
	ModeratorID string `json:"moderatorId"`
}

// RemoveWarningRequest deactivates a warning.
type RemoveWarningRequest struct {
	ModeratorID string `json:"moderatorId"`
}

// AddPunishmentRequest issues a punishment. A zero duration makes bans permanent.
type AddPunishmentRequest struct {
	UserID      uint64              `json:"userId,string"`
	Type        enum.PunishmentType `json:"type"`
	Reason      string              `json:"reason"`
	ModeratorID string              `json:"moderatorId"`
	DurationMs  int64               `json:"durationMs"`
}

// RemovePunishmentRequest lifts a punishment.
type RemovePunishmentRequest struct {
	ModeratorID string `json:"moderatorId"`
	Reason      string `json:"reason"`
}

// WarningsResponse lists a guild's active warnings.
type WarningsResponse struct {
	Warnings []*types.Warning `json:"warnings"`
}

// RemoveWarningResponse reports the warning and whether this request deactivated it.
type RemoveWarningResponse struct {
	Warning *types.Warning `json:"warning"`
	Changed bool           `json:"changed"`
}

// PunishmentsResponse lists a guild's active punishments.
type PunishmentsResponse struct {
	Punishments []*types.Punishment `json:"punishments"`
}

// RemovePunishmentResponse reports the punishment and whether this request deactivated it.
type RemovePunishmentResponse struct {
	Punishment *types.Punishment `json:"punishment"`
	Changed    bool              `json:"changed"`
}

// LogsResponse is a page of the moderation log.
type LogsResponse struct {
	Logs       []*types.ModerationLog `json:"logs"`
	NextCursor string                 `json:"nextCursor,omitempty"`
}

// HealthResponse reports dependency checks and known schedulers.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Workers []WorkerHealth    `json:"workers,omitempty"`
}

// WorkerHealth is a scheduler's last reported status.
type WorkerHealth struct {
	worker.Status

	Stale bool `json:"stale"`
}
