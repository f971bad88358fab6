package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uptrace/bunrouter"
)

//nolint:gochecknoglobals // -
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_api_requests_total",
		Help: "Number of dashboard API requests, by route and status",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_api_request_duration_seconds",
		Help:    "Duration of dashboard API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AsRESTMiddleware records request counts and latencies labelled by route pattern.
func AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		err := next(rec, req)

		route := req.Route()
		requestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())

		return err
	}
}
