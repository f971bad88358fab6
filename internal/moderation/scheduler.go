package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const expiredReason = "expired"

// SchedulerConfig controls the expiry sweep.
type SchedulerConfig struct {
	Interval            time.Duration // Time between sweeps
	RevokeLease         time.Duration // Age after which a lease of a crashed sweep may be taken over
	BatchSize           int           // Maximum records fetched per list per sweep
	Concurrency         int           // Maximum records processed at once
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	RandomizationFactor float64
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:            5 * time.Second,
		RevokeLease:         2 * time.Minute,
		BatchSize:           100,
		Concurrency:         8,
		InitialBackoff:      5 * time.Second,
		MaxBackoff:          10 * time.Minute,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Due       int           `json:"due"`       // Expired records found
	Expired   int           `json:"expired"`   // Records lifted and deactivated
	Reapplied int           `json:"reapplied"` // Failed restrictions enforced again
	Failed    int           `json:"failed"`    // Records whose enforcement failed this sweep
	Deferred  int           `json:"deferred"`  // Records skipped while backing off
	Duration  time.Duration `json:"duration"`
}

// retryState is the backoff of a single record.
type retryState struct {
	mu      sync.Mutex
	backoff *backoff.ExponentialBackOff
	next    time.Time
}

// Scheduler lifts expired punishments and re-applies failed ones.
// All state it needs to resume after a restart is persisted; only the
// backoff timers are kept in memory.
type Scheduler struct {
	svc     *Service
	cfg     SchedulerConfig
	retries *xsync.MapOf[string, *retryState]
	onSweep func(SweepResult)
	logger  *zap.Logger
}

// NewScheduler creates an expiry scheduler acting through the service.
func NewScheduler(svc *Service, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RevokeLease <= 0 {
		cfg.RevokeLease = def.RevokeLease
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.RandomizationFactor < 0 || cfg.RandomizationFactor >= 1 {
		cfg.RandomizationFactor = def.RandomizationFactor
	}

	return &Scheduler{
		svc:     svc,
		cfg:     cfg,
		retries: xsync.NewMapOf[string, *retryState](),
		logger:  logger.Named("scheduler"),
	}
}

// OnSweep registers a callback invoked after every sweep.
func (s *Scheduler) OnSweep(fn func(SweepResult)) {
	s.onSweep = fn
}

// Run sweeps immediately and then on every interval until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Expiry scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("revokeLease", s.cfg.RevokeLease))

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Sweep finished with errors", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Expiry scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep processes due and failed punishments once.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := s.svc.now()

	due, err := s.svc.store.ListDue(ctx, now, now.Add(-s.cfg.RevokeLease), s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list due punishments: %w", err)
	}

	failed, err := s.svc.store.ListFailed(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list failed punishments: %w", err)
	}

	listed := make(map[string]struct{}, len(due)+len(failed))
	for _, p := range due {
		listed[p.ID] = struct{}{}
	}
	for _, p := range failed {
		listed[p.ID] = struct{}{}
	}
	s.forgetSettled(ctx, listed, now)

	var (
		expired, reapplied, failures atomic.Int64
		deferred                     int
	)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.cfg.Concurrency)

	for _, punishment := range due {
		if !s.ready(punishment.ID, now) {
			deferred++
			continue
		}

		p.Go(func(ctx context.Context) error {
			ok, err := s.expire(ctx, punishment)
			if ok {
				expired.Add(1)
			}
			if err != nil {
				failures.Add(1)
			}
			return err
		})
	}

	for _, punishment := range failed {
		if !s.ready(punishment.ID, now) {
			deferred++
			continue
		}

		p.Go(func(ctx context.Context) error {
			ok, err := s.reapply(ctx, punishment)
			if ok {
				reapplied.Add(1)
			}
			if err != nil {
				failures.Add(1)
			}
			return err
		})
	}

	err = p.Wait()

	result := SweepResult{
		Due:       len(due),
		Expired:   int(expired.Load()),
		Reapplied: int(reapplied.Load()),
		Failed:    int(failures.Load()),
		Deferred:  deferred,
		Duration:  time.Since(start),
	}

	sweepDuration.Observe(result.Duration.Seconds())
	sweptTotal.WithLabelValues("expired").Add(float64(result.Expired))
	sweptTotal.WithLabelValues("reapplied").Add(float64(result.Reapplied))
	sweptTotal.WithLabelValues("failed").Add(float64(result.Failed))
	sweptTotal.WithLabelValues("deferred").Add(float64(result.Deferred))

	if result.Due > 0 || len(failed) > 0 {
		s.logger.Info("Sweep completed",
			zap.Int("due", result.Due),
			zap.Int("expired", result.Expired),
			zap.Int("reapplied", result.Reapplied),
			zap.Int("failed", result.Failed),
			zap.Int("deferred", result.Deferred),
			zap.Duration("duration", result.Duration))
	}

	if s.onSweep != nil {
		s.onSweep(result)
	}

	return result, err
}

// NextAttempt returns when a backing-off record will be retried.
func (s *Scheduler) NextAttempt(id string) (time.Time, bool) {
	state, ok := s.retries.Load(id)
	if !ok {
		return time.Time{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.next, true
}

// expire lifts a due punishment and deactivates it. It reports whether the
// punishment was lifted; an error means enforcement or storage failed.
func (s *Scheduler) expire(ctx context.Context, p *types.Punishment) (bool, error) {
	unlock := s.svc.locks.Lock(p.GuildID, p.UserID)
	defer unlock()

	now := s.svc.now()
	claimed, err := s.svc.store.ClaimRevoking(ctx, p.ID, now, now.Add(-s.cfg.RevokeLease))
	if err != nil {
		return false, fmt.Errorf("failed to claim punishment %s: %w", p.ID, err)
	}
	if !claimed {
		// Removed, superseded or leased by another sweep since it was listed
		return false, nil
	}

	if err := s.svc.lift(ctx, p); err != nil {
		if ctx.Err() != nil {
			// Shutting down, let the next run take it over right away
			if err := s.svc.store.ReleaseRevoking(context.WithoutCancel(ctx), p.ID); err != nil {
				s.logger.Error("Failed to release lease", zap.String("punishmentID", p.ID), zap.Error(err))
			}
			return false, nil
		}

		return false, s.fail(ctx, p, now, err)
	}

	changed, err := s.svc.store.DeactivatePunishment(ctx, p.ID, expiredReason, now)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate punishment %s: %w", p.ID, err)
	}
	s.retries.Delete(p.ID)

	if !changed {
		return false, nil
	}

	if err := s.svc.record(ctx, &logRecord{
		guildID:     p.GuildID,
		action:      enum.LogActionPunishmentExpired,
		targetID:    p.UserID,
		moderatorID: types.SystemModeratorID,
		reason:      fmt.Sprintf("%s expired (%s)", p.Type, p.Reason),
		recordID:    p.ID,
	}); err != nil {
		return true, err
	}

	return true, nil
}

// reapply enforces a failed mute or ban again.
func (s *Scheduler) reapply(ctx context.Context, p *types.Punishment) (bool, error) {
	unlock := s.svc.locks.Lock(p.GuildID, p.UserID)
	defer unlock()

	current, err := s.svc.store.GetPunishment(ctx, p.ID)
	if errors.Is(err, ErrNotFound) {
		s.retries.Delete(p.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get punishment %s: %w", p.ID, err)
	}

	now := s.svc.now()
	if !current.Active || (!current.EnforcementFailed && !current.IsDue(now)) {
		// Removed, superseded or re-applied elsewhere
		s.retries.Delete(current.ID)
		return false, nil
	}
	if !current.EnforcementFailed || current.IsDue(now) {
		return false, nil
	}

	if err := s.svc.apply(ctx, current); err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, s.fail(ctx, current, now, err)
	}

	if err := s.svc.store.ClearEnforcementFailed(ctx, current.ID); err != nil {
		return true, fmt.Errorf("failed to clear enforcement flag of %s: %w", current.ID, err)
	}
	s.retries.Delete(current.ID)

	s.logger.Info("Re-applied punishment",
		zap.String("punishmentID", current.ID),
		zap.String("type", string(current.Type)),
		zap.Int("retryCount", current.RetryCount))

	return true, nil
}

// fail flags the punishment and schedules its next attempt.
func (s *Scheduler) fail(ctx context.Context, p *types.Punishment, now time.Time, cause error) error {
	if err := s.svc.store.MarkEnforcementFailed(ctx, p.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to flag punishment %s: %w", p.ID, err)
	}

	next := s.backoff(p.ID, now)

	s.logger.Warn("Enforcement failed, backing off",
		zap.String("punishmentID", p.ID),
		zap.String("type", string(p.Type)),
		zap.Uint64("guildID", p.GuildID),
		zap.Uint64("userID", p.UserID),
		zap.Time("nextAttempt", next),
		zap.Error(cause))

	// Only the first failure of a record is written to the moderation log
	if !p.EnforcementFailed {
		if err := s.svc.record(ctx, &logRecord{
			guildID:     p.GuildID,
			action:      enum.LogActionEnforcementFailed,
			targetID:    p.UserID,
			moderatorID: types.SystemModeratorID,
			reason:      cause.Error(),
			recordID:    p.ID,
		}); err != nil {
			return err
		}
	}

	return cause
}

// backoff advances the record's backoff and returns its next attempt time.
func (s *Scheduler) backoff(id string, now time.Time) time.Time {
	state, _ := s.retries.LoadOrCompute(id, func() *retryState {
		return &retryState{
			backoff: backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(s.cfg.InitialBackoff),
				backoff.WithMaxInterval(s.cfg.MaxBackoff),
				backoff.WithRandomizationFactor(s.cfg.RandomizationFactor),
				backoff.WithMaxElapsedTime(0),
			),
		}
	})

	state.mu.Lock()
	defer state.mu.Unlock()

	state.next = now.Add(state.backoff.NextBackOff())
	return state.next
}

// forgetSettled drops the backoff of records that no longer need another attempt,
// such as punishments removed by hand or superseded while backing off.
// Records listed by the current sweep keep theirs.
func (s *Scheduler) forgetSettled(ctx context.Context, listed map[string]struct{}, now time.Time) {
	s.retries.Range(func(id string, _ *retryState) bool {
		if _, ok := listed[id]; ok {
			return true
		}

		p, err := s.svc.store.GetPunishment(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			s.retries.Delete(id)
		case err != nil:
			s.logger.Warn("Failed to check backing off punishment", zap.String("punishmentID", id), zap.Error(err))
		case !p.Active || (!p.EnforcementFailed && !p.IsDue(now)):
			s.retries.Delete(id)
		}
		return ctx.Err() == nil
	})
}

// ready reports whether the record is not backing off at now.
func (s *Scheduler) ready(id string, now time.Time) bool {
	state, ok := s.retries.Load(id)
	if !ok {
		return true
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return !now.Before(state.next)
}
