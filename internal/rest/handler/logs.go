package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/moderation"
	restTypes "github.com/robalyx/warden/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// LogHandler serves the moderation log.
type LogHandler struct {
	svc    *moderation.Service
	logger *zap.Logger
}

// NewLogHandler creates a new log handler.
func NewLogHandler(svc *moderation.Service, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		svc:    svc,
		logger: logger.Named("log_handler"),
	}
}

// List returns a page of the guild's log, newest first.
// The cursor query parameter continues from a previous page's nextCursor.
func (h *LogHandler) List(w http.ResponseWriter, req bunrouter.Request) error {
	guildID, err := guildParam(req)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	query := req.URL.Query()

	var cursor *types.LogCursor
	if raw := query.Get("cursor"); raw != "" {
		cursor, err = types.ParseLogCursor(raw)
		if err != nil {
			return writeError(w, h.logger, err)
		}
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return writeError(w, h.logger, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, raw))
		}
	}

	logs, next, err := h.svc.Logs(req.Context(), guildID, cursor, limit)
	if err != nil {
		return writeError(w, h.logger, err)
	}

	resp := restTypes.LogsResponse{Logs: logs}
	if next != nil {
		resp.NextCursor = next.String()
	}

	return writeJSON(w, http.StatusOK, resp)
}
