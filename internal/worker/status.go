package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"github.com/robalyx/warden/internal/moderation"
	"go.uber.org/zap"
)

const (
	// HeartbeatInterval is how often a scheduler reports its status.
	HeartbeatInterval = 10 * time.Second

	// DefaultHeartbeatTTL is how long a reported status remains stored.
	DefaultHeartbeatTTL = time.Minute

	// StaleThreshold is how long before a scheduler is considered offline.
	StaleThreshold = 30 * time.Second

	keyPrefix = "warden:worker:"
)

// Status represents a scheduler's current state.
type Status struct {
	InstanceID  string                  `json:"instanceId"`
	Component   string                  `json:"component"`
	LastSeen    time.Time               `json:"lastSeen"`
	LastSweepAt *time.Time              `json:"lastSweepAt,omitempty"`
	LastSweep   *moderation.SweepResult `json:"lastSweep,omitempty"`
	IsHealthy   bool                    `json:"isHealthy"`
}

// IsStale reports whether the status is too old to trust.
func (s *Status) IsStale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor handles status reporting and querying.
type Monitor struct {
	client rueidis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewMonitor creates a new status monitor.
func NewMonitor(client rueidis.Client, ttl time.Duration, logger *zap.Logger) *Monitor {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}

	return &Monitor{
		client: client,
		ttl:    ttl,
		logger: logger.Named("worker_monitor"),
	}
}

// ReportStatus stores the status with the heartbeat TTL.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	status.LastSeen = time.Now()

	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := keyPrefix + status.Component + ":" + status.InstanceID
	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(rueidis.BinaryString(data)).Ex(m.ttl).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// GetAllStatuses retrieves all stored statuses.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	keys, err := m.client.Do(ctx, m.client.B().Keys().Pattern(keyPrefix+"*").Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to get status keys: %w", err)
	}

	statuses := make([]Status, 0, len(keys))
	for _, key := range keys {
		data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
		if err != nil {
			// Expired between KEYS and GET
			if rueidis.IsRedisNil(err) {
				continue
			}
			m.logger.Error("Failed to get status", zap.String("key", key), zap.Error(err))
			continue
		}

		var status Status
		if err := sonic.Unmarshal(data, &status); err != nil {
			m.logger.Error("Failed to unmarshal status", zap.String("key", key), zap.Error(err))
			continue
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// Reporter periodically reports a scheduler's status and the result of its latest sweep.
type Reporter struct {
	monitor *Monitor
	logger  *zap.Logger

	mu     sync.Mutex
	status Status
}

// NewReporter creates a reporter for the given component instance.
func NewReporter(monitor *Monitor, component, instanceID string, logger *zap.Logger) *Reporter {
	return &Reporter{
		monitor: monitor,
		logger:  logger.Named("status_reporter"),
		status: Status{
			InstanceID: instanceID,
			Component:  component,
			IsHealthy:  true,
		},
	}
}

// RecordSweep stores the outcome of a sweep for the next report.
// It matches the scheduler's OnSweep callback.
func (r *Reporter) RecordSweep(result moderation.SweepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.status.LastSweepAt = &now
	r.status.LastSweep = &result
}

// Snapshot returns the current status.
func (r *Reporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// Run reports status until ctx is done, then marks the instance unhealthy.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	r.report(ctx)

	for {
		select {
		case <-ticker.C:
			r.report(ctx)
		case <-ctx.Done():
			r.mu.Lock()
			r.status.IsHealthy = false
			r.mu.Unlock()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.report(shutdownCtx)
			cancel()
			return
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	if err := r.monitor.ReportStatus(ctx, r.Snapshot()); err != nil {
		r.logger.Error("Failed to report status", zap.Error(err))
	}
}
