package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	restTypes "github.com/robalyx/warden/internal/rest/types"
	"github.com/robalyx/warden/internal/worker"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

const healthTimeout = 3 * time.Second

// CheckFunc probes a dependency.
type CheckFunc func(ctx context.Context) error

// StatusLister returns the statuses reported by schedulers.
type StatusLister interface {
	GetAllStatuses(ctx context.Context) ([]worker.Status, error)
}

// HealthHandler reports whether the API's dependencies are reachable.
type HealthHandler struct {
	checks  map[string]CheckFunc
	workers StatusLister
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler. workers may be nil.
func NewHealthHandler(checks map[string]CheckFunc, workers StatusLister, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		workers: workers,
		logger:  logger.Named("health_handler"),
	}
}

// Check runs every probe. Any failing probe turns the response into 503.
// Scheduler statuses are informational.
func (h *HealthHandler) Check(w http.ResponseWriter, req bunrouter.Request) error {
	ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
	defer cancel()

	resp := restTypes.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}

	if h.workers != nil {
		statuses, err := h.workers.GetAllStatuses(ctx)
		if err != nil {
			h.logger.Warn("Failed to list worker statuses", zap.Error(err))
		}

		now := time.Now()
		for _, status := range statuses {
			resp.Workers = append(resp.Workers, restTypes.WorkerHealth{
				Status: status,
				Stale:  status.IsStale(now),
			})
		}
		sort.Slice(resp.Workers, func(i, j int) bool {
			return resp.Workers[i].InstanceID < resp.Workers[j].InstanceID
		})
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	return writeJSON(w, status, resp)
}
