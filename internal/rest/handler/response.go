package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/moderation"
	restTypes "github.com/robalyx/warden/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ErrBadRequest is returned for malformed paths, queries or bodies.
var ErrBadRequest = errors.New("bad request")

// StatusFor maps an error to the HTTP status returned to the client.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, moderation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, automod.ErrConfigInvalid),
		errors.Is(err, moderation.ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidCursor),
		errors.Is(err, types.ErrInvalidPunishment):
		return http.StatusBadRequest
	case errors.Is(err, moderation.ErrEnforcementFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// writeError maps err to a status and writes it. Internal errors are logged and hidden.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) error {
	status := StatusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		message = "Internal server error"
	}

	return writeJSON(w, status, restTypes.ErrorResponse{Error: message})
}

// decodeBody reads a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, req bunrouter.Request, v any) error {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)

	dec := sonic.ConfigStd.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %w", ErrBadRequest, err)
	}
	return nil
}

// guildParam parses the :guild path parameter.
func guildParam(req bunrouter.Request) (uint64, error) {
	raw := req.Param("guild")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid guild ID %q", ErrBadRequest, raw)
	}
	return id, nil
}

// requireModerator rejects requests that do not name the acting moderator.
func requireModerator(moderatorID string) error {
	if moderatorID == "" {
		return fmt.Errorf("%w: moderatorId is required", ErrBadRequest)
	}
	return nil
}
