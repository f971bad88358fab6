package handler

import (
	"net/http"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// AutoModHandler reads and replaces a guild's auto-mod configuration.
type AutoModHandler struct {
	svc    *moderation.Service
	logger *zap.Logger
}

// NewAutoModHandler creates a new auto-mod handler.
func NewAutoModHandler(svc *moderation.Service, logger *zap.Logger) *AutoModHandler {
	return &AutoModHandler{
		svc:    svc,
		logger: logger.Named("automod_handler"),
	}
}

// Get returns the guild's configuration, or the defaults if none is stored.
func (h *AutoModHandler) Get(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	cfg, err := h.svc.GetConfig(req.Context(), guildID)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, cfg)
}

// Put validates and stores a configuration. Omitted sections keep their defaults.
func (h *AutoModHandler) Put(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	cfg := automod.DefaultConfig()
	if err := decodeBody(w, req, cfg); err != nil {
		return writeError(w, h.logger, err)
	}

	if err := h.svc.UpdateConfig(req.Context(), guildID, cfg); err != nil {
		return writeError(w, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, cfg)
}
