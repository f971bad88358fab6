package rest

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/rest/handler"
	"github.com/robalyx/warden/internal/rest/middleware/auth"
	"github.com/robalyx/warden/internal/rest/middleware/metrics"
	"github.com/robalyx/warden/internal/rest/middleware/ratelimit"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Server implements the dashboard REST API.
type Server struct {
	warningHandler    *handler.WarningHandler
	punishmentHandler *handler.PunishmentHandler
	logHandler        *handler.LogHandler
	autoModHandler    *handler.AutoModHandler
	healthHandler     *handler.HealthHandler
}

// Options configures access to the dashboard API.
type Options struct {
	Token     string           // Bearer token for /v1, empty disables authentication
	RateLimit ratelimit.Config // Per client limits on /v1
}

// NewServer creates the dashboard API handler. Requests under /v1 require the
// bearer token when one is set.
func NewServer(
	svc *moderation.Service, health *handler.HealthHandler, opts Options, logger *zap.Logger,
) http.Handler {
	logger = logger.Named("rest")

	server := &Server{
		warningHandler:    handler.NewWarningHandler(svc, logger),
		punishmentHandler: handler.NewPunishmentHandler(svc, logger),
		logHandler:        handler.NewLogHandler(svc, logger),
		autoModHandler:    handler.NewAutoModHandler(svc, logger),
		healthHandler:     health,
	}

	authMiddleware := auth.New(opts.Token, logger)
	rateLimiter := ratelimit.New(opts.RateLimit, logger)

	router := bunrouter.New(
		bunrouter.Use(metrics.AsRESTMiddleware),
	)

	router.Use(
		rateLimiter.AsRESTMiddleware,
		authMiddleware.AsRESTMiddleware,
	).WithGroup("/v1", func(g *bunrouter.Group) {
		g.GET("/guilds/:guild/warnings", server.warningHandler.List)
		g.POST("/guilds/:guild/warnings", server.warningHandler.Add)
		g.DELETE("/warnings/:id", server.warningHandler.Remove)

		g.GET("/guilds/:guild/punishments", server.punishmentHandler.List)
		g.POST("/guilds/:guild/punishments", server.punishmentHandler.Add)
		g.DELETE("/punishments/:id", server.punishmentHandler.Remove)

		g.GET("/guilds/:guild/logs", server.logHandler.List)

		g.GET("/guilds/:guild/automod", server.autoModHandler.Get)
		g.PUT("/guilds/:guild/automod", server.autoModHandler.Put)
	})

	router.GET("/metrics", bunrouter.HTTPHandler(promhttp.Handler()))
	if server.healthHandler != nil {
		router.GET("/healthz", server.healthHandler.Check)
	}

	return gzhttp.GzipHandler(router)
}
