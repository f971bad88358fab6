package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // -
var (
	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_automod_violations_total",
		Help: "Number of messages that violated an auto-mod rule",
	}, []string{"rule"})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_moderation_actions_total",
		Help: "Number of moderation log entries written, by action and source",
	}, []string{"action", "source"})

	enforcementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_enforcement_failures_total",
		Help: "Number of failed enforcement calls",
	}, []string{"operation"})

	enforcementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warden_enforcement_duration_seconds",
		Help:    "Duration of enforcement calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_sweep_duration_seconds",
		Help:    "Duration of expiry sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_sweep_records_total",
		Help: "Number of records handled by expiry sweeps, by result",
	}, []string{"result"})

	raidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_raids_detected_total",
		Help: "Number of detected join raids, by action",
	}, []string{"action"})

	suppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_duplicates_suppressed_total",
		Help: "Number of triggers dropped as duplicates",
	}, []string{"kind"})

	emitFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_emit_failures_total",
		Help: "Number of events that could not be delivered",
	})
)
