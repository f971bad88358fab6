package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Middleware requires a static bearer token on every request.
type Middleware struct {
	token  []byte
	logger *zap.Logger
}

// New creates a new auth middleware. An empty token disables authentication.
func New(token string, logger *zap.Logger) *Middleware {
	logger = logger.Named("auth")
	if token == "" {
		logger.Warn("API token is not set, requests will not be authenticated")
	}

	return &Middleware{
		token:  []byte(token),
		logger: logger,
	}
}

// AsRESTMiddleware returns a bunrouter middleware checking the Authorization header.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		if len(m.token) == 0 {
			return next(w, req)
		}

		given, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(given), m.token) != 1 {
			m.logger.Debug("Rejected unauthenticated request",
				zap.String("addr", req.RemoteAddr),
				zap.String("path", req.URL.Path))

			body, _ := sonic.Marshal(map[string]string{"error": "unauthorized"})
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write(body)
			return nil
		}

		return next(w, req)
	}
}
