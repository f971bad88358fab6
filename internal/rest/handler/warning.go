package handler

import (
	"net/http"

	"github.com/robalyx/warden/internal/moderation"
	restTypes "github.com/robalyx/warden/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// WarningHandler handles warning endpoints.
type WarningHandler struct {
	svc    *moderation.Service
	logger *zap.Logger
}

// NewWarningHandler creates a new warning handler.
func NewWarningHandler(svc *moderation.Service, logger *zap.Logger) *WarningHandler {
	return &WarningHandler{
		svc:    svc,
		logger: logger.Named("warning_handler"),
	}
}

// List returns the guild's active warnings.
func (h *WarningHandler) List(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	warnings, err := h.svc.ActiveWarnings(req.Context(), guildID)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, restTypes.WarningsResponse{Warnings: warnings})
}

// Add issues a warning.
func (h *WarningHandler) Add(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	var body restTypes.AddWarningRequest
	if err := decodeBody(w, req, &body); err != nil {
		return writeError(w, h.logger, err)
	}

	warning, err := h.svc.AddWarning(req.Context(), guildID, body.UserID, body.Reason, body.ModeratorID)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusCreated, warning)
}

// Remove deactivates a warning.
func (h *WarningHandler) Remove(w http.ResponseWriter, req bunrouter.Request) error {
	var body restTypes.RemoveWarningRequest
	if err := decodeBody(w, req, &body); err != nil {
		return writeError(w, h.logger, err)
	}
	if err := requireModerator(body.ModeratorID); err != nil {
		return writeError(w, h.logger, err)
	}

	warning, changed, err := h.svc.RemoveWarning(req.Context(), req.Param("id"), body.ModeratorID)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, restTypes.RemoveWarningResponse{Warning: warning, Changed: changed})
}
