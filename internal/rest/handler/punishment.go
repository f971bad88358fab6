package handler

import (
	"net/http"
	"time"

	"github.com/robalyx/warden/internal/moderation"
	restTypes "github.com/robalyx/warden/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// PunishmentHandler handles punishment endpoints.
type PunishmentHandler struct {
	svc    *moderation.Service
	logger *zap.Logger
}

// NewPunishmentHandler creates a new punishment handler.
func NewPunishmentHandler(svc *moderation.Service, logger *zap.Logger) *PunishmentHandler {
	return &PunishmentHandler{
		svc:    svc,
		logger: logger.Named("punishment_handler"),
	}
}

// List returns the guild's active punishments.
func (h *PunishmentHandler) List(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	punishments, err := h.svc.ActivePunishments(req.Context(), guildID)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, restTypes.PunishmentsResponse{Punishments: punishments})
}

// Add issues a punishment. A mute or ban that could not be applied yet is
// stored for retry and answered with 202 Accepted.
func (h *PunishmentHandler) Add(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	var body restTypes.AddPunishmentRequest
	if err := decodeBody(w, req, &body); err != nil {
		return writeError(w, h.logger, err)
	}

	punishment, err := h.svc.AddPunishment(req.Context(), moderation.PunishmentRequest{
		GuildID:     guildID,
		UserID:      body.UserID,
		Type:        body.Type,
		Reason:      body.Reason,
		ModeratorID: body.ModeratorID,
		Duration:    time.Duration(body.DurationMs) * time.Millisecond,
	})
	if err != nil {
		return writeError(w, h.logger, err)
	}

	status := http.StatusCreated
	if punishment.EnforcementFailed {
		status = http.StatusAccepted
	}

	return writeJSON(w, status, punishment)
}

// Remove lifts a punishment.
func (h *PunishmentHandler) Remove(w http.ResponseWriter, req bunrouter.Request) error {
	var body restTypes.RemovePunishmentRequest
	if err := decodeBody(w, req, &body); err != nil {
		return writeError(w, h.logger, err)
	}
	if err := requireModerator(body.ModeratorID); err != nil {
		return writeError(w, h.logger, err)
	}

	punishment, changed, err := h.svc.RemovePunishment(req.Context(), req.Param("id"), body.ModeratorID, body.Reason)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, restTypes.RemovePunishmentResponse{Punishment: punishment, Changed: changed})
}
