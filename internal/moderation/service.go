package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"go.uber.org/zap"
)

const (
	// DefaultEnforcementTimeout bounds every enforcement call.
	DefaultEnforcementTimeout = 10 * time.Second
	// DefaultLogLimit is the page size used when none is requested.
	DefaultLogLimit = 50
	// MaxLogLimit is the largest page size served.
	MaxLogLimit = 100

	kickCompletedReason = "kick completed"
	noReason            = "No reason provided"
)

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the clock used to timestamp records and detect expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithEnforcementTimeout sets the timeout of each enforcement call.
func WithEnforcementTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// PunishmentRequest describes a punishment to issue.
type PunishmentRequest struct {
	GuildID     uint64
	UserID      uint64
	Type        enum.PunishmentType
	Reason      string
	ModeratorID string
	Duration    time.Duration // Zero is permanent for bans and ignored for kicks
}

// Outcome is what an intent turned into.
type Outcome struct {
	Warning    *types.Warning
	Punishment *types.Punishment
	Escalation *types.Punishment // Punishment issued because warnings reached the escalation threshold
}

// Service performs moderation actions and serves the dashboard queries.
type Service struct {
	store       Store
	configs     automod.ConfigSource
	enforcement Enforcement
	emitter     Emitter
	locks       *KeyLocker
	logger      *zap.Logger
	now         func() time.Time
	timeout     time.Duration
}

// NewService creates a moderation service.
func NewService(
	store Store, configs automod.ConfigSource, enforcement Enforcement, emitter Emitter, logger *zap.Logger,
	opts ...Option,
) *Service {
	if emitter == nil {
		emitter = NopEmitter{}
	}

	s := &Service{
		store:       store,
		configs:     configs,
		enforcement: enforcement,
		emitter:     emitter,
		locks:       NewKeyLocker(),
		logger:      logger.Named("moderation"),
		now:         time.Now,
		timeout:     DefaultEnforcementTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Now returns the current time of the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// AddWarning records a warning issued by a moderator.
func (s *Service) AddWarning(ctx context.Context, guildID, userID uint64, reason, moderatorID string) (*types.Warning, error) {
	if guildID == 0 || userID == 0 || moderatorID == "" {
		return nil, fmt.Errorf("%w: guild, user and moderator are required", ErrInvalidRequest)
	}

	unlock := s.locks.Lock(guildID, userID)
	defer unlock()

	return s.warnLocked(ctx, guildID, userID, orDefault(reason), moderatorID)
}

// AddPunishment issues a punishment the same way auto-mod does, on behalf of a moderator.
// Failed mutes and bans are stored flagged for retry; a failed kick returns ErrEnforcementFailed.
func (s *Service) AddPunishment(ctx context.Context, req PunishmentRequest) (*types.Punishment, error) {
	if req.GuildID == 0 || req.UserID == 0 || req.ModeratorID == "" {
		return nil, fmt.Errorf("%w: guild, user and moderator are required", ErrInvalidRequest)
	}
	if !req.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown punishment type %q", ErrInvalidRequest, req.Type)
	}
	if req.Duration < 0 || (req.Type == enum.PunishmentTypeMute && req.Duration == 0) {
		return nil, fmt.Errorf("%w: invalid duration %s for %s", ErrInvalidRequest, req.Duration, req.Type)
	}
	if req.Type == enum.PunishmentTypeMute && req.Duration > automod.MaxMuteDuration {
		return nil, fmt.Errorf("%w: mute duration %s exceeds %s", ErrInvalidRequest, req.Duration, automod.MaxMuteDuration)
	}
	req.Reason = orDefault(req.Reason)

	unlock := s.locks.Lock(req.GuildID, req.UserID)
	defer unlock()

	return s.issueLocked(ctx, req)
}

// RemoveWarning deactivates a warning. It reports whether this call deactivated it.
func (s *Service) RemoveWarning(ctx context.Context, id, moderatorID string) (*types.Warning, bool, error) {
	warning, err := s.store.GetWarning(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get warning: %w", err)
	}

	unlock := s.locks.Lock(warning.GuildID, warning.UserID)
	defer unlock()

	changed, err := s.store.DeactivateWarning(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to deactivate warning: %w", err)
	}
	warning.Active = false

	if changed {
		if err := s.record(ctx, &logRecord{
			guildID:     warning.GuildID,
			action:      enum.LogActionWarningRemoved,
			targetID:    warning.UserID,
			moderatorID: moderatorID,
			reason:      warning.Reason,
			recordID:    warning.ID,
		}); err != nil {
			return warning, true, err
		}
	}

	return warning, changed, nil
}

// RemovePunishment lifts a mute or ban and deactivates the punishment.
// Removing an inactive punishment is a no-op and writes no log entry.
// If lifting fails the punishment stays active and ErrEnforcementFailed is returned.
func (s *Service) RemovePunishment(
	ctx context.Context, id, moderatorID, reason string,
) (*types.Punishment, bool, error) {
	punishment, err := s.store.GetPunishment(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get punishment: %w", err)
	}

	unlock := s.locks.Lock(punishment.GuildID, punishment.UserID)
	defer unlock()

	// Re-read under the lock, the sweep may have expired it meanwhile
	punishment, err = s.store.GetPunishment(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get punishment: %w", err)
	}
	if !punishment.Active {
		return punishment, false, nil
	}

	reason = orDefault(reason)
	if err := s.lift(ctx, punishment); err != nil {
		_ = s.record(ctx, &logRecord{
			guildID:     punishment.GuildID,
			action:      enum.LogActionEnforcementFailed,
			targetID:    punishment.UserID,
			moderatorID: moderatorID,
			reason:      err.Error(),
			recordID:    punishment.ID,
		})
		return punishment, false, err
	}

	now := s.now()
	changed, err := s.store.DeactivatePunishment(ctx, id, reason, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to deactivate punishment: %w", err)
	}
	if !changed {
		return punishment, false, nil
	}

	punishment.Active = false
	punishment.DeactivatedAt = &now
	punishment.DeactivationReason = reason

	if err := s.record(ctx, &logRecord{
		guildID:     punishment.GuildID,
		action:      enum.LogActionPunishmentRemoved,
		targetID:    punishment.UserID,
		moderatorID: moderatorID,
		reason:      reason,
		recordID:    punishment.ID,
	}); err != nil {
		return punishment, true, err
	}

	return punishment, true, nil
}

// ActiveWarnings returns the guild's active warnings, newest first.
func (s *Service) ActiveWarnings(ctx context.Context, guildID uint64) ([]*types.Warning, error) {
	warnings, err := s.store.ListActiveWarnings(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list warnings: %w", err)
	}
	return warnings, nil
}

// ActivePunishments returns the guild's active punishments, newest first.
func (s *Service) ActivePunishments(ctx context.Context, guildID uint64) ([]*types.Punishment, error) {
	punishments, err := s.store.ListActivePunishments(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list punishments: %w", err)
	}
	return punishments, nil
}

// Logs returns a page of the guild's moderation log, newest first.
func (s *Service) Logs(
	ctx context.Context, guildID uint64, cursor *types.LogCursor, limit int,
) ([]*types.ModerationLog, *types.LogCursor, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	limit = min(limit, MaxLogLimit)

	logs, next, err := s.store.ListLogs(ctx, guildID, cursor, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, next, nil
}

// GetConfig returns the guild's auto-mod configuration.
func (s *Service) GetConfig(ctx context.Context, guildID uint64) (*automod.Config, error) {
	cfg, err := s.configs.Get(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load automod config: %w", err)
	}
	return cfg, nil
}

// UpdateConfig validates and stores the guild's auto-mod configuration.
func (s *Service) UpdateConfig(ctx context.Context, guildID uint64, cfg *automod.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := s.configs.Put(ctx, guildID, cfg); err != nil {
		return fmt.Errorf("failed to store automod config: %w", err)
	}

	s.logger.Info("Updated automod config", zap.Uint64("guildID", guildID))
	return nil
}

// applyIntentLocked carries out a resolved intent. The caller holds the member's key lock.
func (s *Service) applyIntentLocked(
	ctx context.Context, cfg *automod.Config, guildID, userID uint64, intent *automod.Intent, moderatorID string,
) (*Outcome, error) {
	if intent.IsWarning() {
		warning, err := s.warnLocked(ctx, guildID, userID, intent.Reason, moderatorID)
		if err != nil {
			return nil, err
		}

		out := &Outcome{Warning: warning}
		if moderatorID != types.SystemModeratorID {
			return out, nil
		}

		count, err := s.store.CountActiveWarnings(ctx, guildID, userID)
		if err != nil {
			return out, fmt.Errorf("failed to count warnings: %w", err)
		}

		escalation, ok := automod.Escalate(count, cfg)
		if !ok {
			return out, nil
		}

		punishmentType, _ := escalation.Action.PunishmentType()
		out.Escalation, err = s.issueLocked(ctx, PunishmentRequest{
			GuildID:     guildID,
			UserID:      userID,
			Type:        punishmentType,
			Reason:      escalation.Reason,
			ModeratorID: moderatorID,
			Duration:    escalation.Duration,
		})
		return out, err
	}

	punishmentType, ok := intent.Action.PunishmentType()
	if !ok {
		return nil, fmt.Errorf("%w: %q", automod.ErrUnknownAction, intent.Action)
	}

	punishment, err := s.issueLocked(ctx, PunishmentRequest{
		GuildID:     guildID,
		UserID:      userID,
		Type:        punishmentType,
		Reason:      intent.Reason,
		ModeratorID: moderatorID,
		Duration:    intent.Duration,
	})
	return &Outcome{Punishment: punishment}, err
}

func (s *Service) warnLocked(
	ctx context.Context, guildID, userID uint64, reason, moderatorID string,
) (*types.Warning, error) {
	warning := &types.Warning{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		UserID:      userID,
		Reason:      reason,
		ModeratorID: moderatorID,
		Timestamp:   s.now(),
		Active:      true,
	}

	if err := s.store.AddWarning(ctx, warning); err != nil {
		return nil, fmt.Errorf("failed to add warning: %w", err)
	}

	if err := s.record(ctx, &logRecord{
		guildID:     guildID,
		action:      enum.LogActionWarn,
		targetID:    userID,
		moderatorID: moderatorID,
		reason:      reason,
		recordID:    warning.ID,
	}); err != nil {
		return warning, err
	}

	return warning, nil
}

// issueLocked stores and enforces a punishment. The caller holds the member's key lock.
//
// Mutes are enforced before they are stored; kicks and bans are stored first.
// Failed mutes and bans are stored flagged so the scheduler re-applies them.
func (s *Service) issueLocked(ctx context.Context, req PunishmentRequest) (*types.Punishment, error) {
	now := s.now()
	punishment := &types.Punishment{
		ID:          uuid.NewString(),
		GuildID:     req.GuildID,
		UserID:      req.UserID,
		Type:        req.Type,
		Reason:      req.Reason,
		ModeratorID: req.ModeratorID,
		Active:      true,
		Timestamp:   now,
	}

	// Configs stored before the cap existed may still ask for longer mutes
	if req.Type == enum.PunishmentTypeMute && req.Duration > automod.MaxMuteDuration {
		req.Duration = automod.MaxMuteDuration
	}

	if req.Duration > 0 && req.Type != enum.PunishmentTypeKick {
		durationMs := req.Duration.Milliseconds()
		expiresAt := now.Add(req.Duration)
		punishment.DurationMs = &durationMs
		punishment.ExpiresAt = &expiresAt
	}

	var enforceErr error
	if req.Type == enum.PunishmentTypeMute {
		if enforceErr = s.apply(ctx, punishment); enforceErr != nil {
			punishment.EnforcementFailed = true
			punishment.LastError = enforceErr.Error()
		}
	}

	superseded, err := s.store.AddPunishment(ctx, punishment)
	if err != nil {
		return nil, fmt.Errorf("failed to add punishment: %w", err)
	}

	for _, old := range superseded {
		if err := s.record(ctx, &logRecord{
			guildID:     old.GuildID,
			action:      enum.LogActionPunishmentSuperseded,
			targetID:    old.UserID,
			moderatorID: req.ModeratorID,
			reason:      SupersededReason,
			recordID:    old.ID,
		}); err != nil {
			return punishment, err
		}
	}

	if err := s.record(ctx, &logRecord{
		guildID:     req.GuildID,
		action:      enum.LogActionFor(req.Type),
		targetID:    req.UserID,
		moderatorID: req.ModeratorID,
		reason:      req.Reason,
		recordID:    punishment.ID,
		expiresAt:   punishment.ExpiresAt,
	}); err != nil {
		return punishment, err
	}

	if req.Type != enum.PunishmentTypeMute {
		enforceErr = s.apply(ctx, punishment)
		if enforceErr != nil {
			if err := s.store.MarkEnforcementFailed(ctx, punishment.ID, enforceErr.Error()); err != nil {
				return punishment, fmt.Errorf("failed to flag punishment: %w", err)
			}
			punishment.EnforcementFailed = true
			punishment.RetryCount++
			punishment.LastError = enforceErr.Error()
		}
	}

	if enforceErr != nil {
		s.logger.Warn("Enforcement failed",
			zap.String("punishmentID", punishment.ID),
			zap.String("type", string(punishment.Type)),
			zap.Uint64("guildID", punishment.GuildID),
			zap.Uint64("userID", punishment.UserID),
			zap.Error(enforceErr))

		if err := s.record(ctx, &logRecord{
			guildID:     req.GuildID,
			action:      enum.LogActionEnforcementFailed,
			targetID:    req.UserID,
			moderatorID: req.ModeratorID,
			reason:      enforceErr.Error(),
			recordID:    punishment.ID,
		}); err != nil {
			return punishment, err
		}

		// Kicks are one-shot and surface their failure instead of being retried
		if req.Type == enum.PunishmentTypeKick {
			return punishment, enforceErr
		}
		return punishment, nil
	}

	if req.Type == enum.PunishmentTypeKick {
		if _, err := s.store.DeactivatePunishment(ctx, punishment.ID, kickCompletedReason, now); err != nil {
			return punishment, fmt.Errorf("failed to deactivate kick: %w", err)
		}
		punishment.Active = false
		punishment.DeactivatedAt = &now
		punishment.DeactivationReason = kickCompletedReason
	}

	return punishment, nil
}

// apply enforces the restriction of a punishment.
func (s *Service) apply(ctx context.Context, p *types.Punishment) error {
	switch p.Type {
	case enum.PunishmentTypeMute:
		duration := p.Duration()
		if p.ExpiresAt != nil {
			duration = p.ExpiresAt.Sub(s.now())
		}
		if duration <= 0 {
			return nil
		}
		return callWithTimeout(ctx, s.timeout, "mute", func(ctx context.Context) error {
			return s.enforcement.Mute(ctx, p.GuildID, p.UserID, duration, p.Reason)
		})
	case enum.PunishmentTypeKick:
		return callWithTimeout(ctx, s.timeout, "kick", func(ctx context.Context) error {
			return s.enforcement.Kick(ctx, p.GuildID, p.UserID, p.Reason)
		})
	case enum.PunishmentTypeBan:
		return callWithTimeout(ctx, s.timeout, "ban", func(ctx context.Context) error {
			return s.enforcement.Ban(ctx, p.GuildID, p.UserID, p.Reason)
		})
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidPunishment, p.Type)
	}
}

// lift removes the restriction of a punishment. Kicks have nothing to lift.
func (s *Service) lift(ctx context.Context, p *types.Punishment) error {
	switch p.Type {
	case enum.PunishmentTypeMute:
		return callWithTimeout(ctx, s.timeout, "unmute", func(ctx context.Context) error {
			return s.enforcement.Unmute(ctx, p.GuildID, p.UserID)
		})
	case enum.PunishmentTypeBan:
		return callWithTimeout(ctx, s.timeout, "unban", func(ctx context.Context) error {
			return s.enforcement.Unban(ctx, p.GuildID, p.UserID)
		})
	case enum.PunishmentTypeKick:
		return nil
	default:
		return fmt.Errorf("%w: %q", types.ErrInvalidPunishment, p.Type)
	}
}

// logRecord is a log entry together with the event fields derived from it.
type logRecord struct {
	guildID     uint64
	action      enum.LogAction
	targetID    uint64
	moderatorID string
	reason      string
	recordID    string
	expiresAt   *time.Time
}

// record appends a moderation log entry and emits the matching event.
func (s *Service) record(ctx context.Context, r *logRecord) error {
	entry := &types.ModerationLog{
		GuildID:     r.guildID,
		Action:      r.action,
		TargetID:    r.targetID,
		ModeratorID: r.moderatorID,
		Reason:      r.reason,
		Timestamp:   s.now(),
	}

	if err := s.store.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to append moderation log: %w", err)
	}

	kind := eventKind(r.moderatorID)
	actionsTotal.WithLabelValues(string(r.action), string(kind)).Inc()

	s.emit(ctx, &Event{
		Kind:        kind,
		GuildID:     r.guildID,
		Type:        r.action,
		TargetID:    r.targetID,
		ModeratorID: r.moderatorID,
		Reason:      r.reason,
		Timestamp:   entry.Timestamp,
		ExpiresAt:   r.expiresAt,
		RecordID:    r.recordID,
	})

	return nil
}

func (s *Service) emit(ctx context.Context, event *Event) {
	if err := s.emitter.Emit(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		emitFailuresTotal.Inc()
		s.logger.Warn("Failed to emit event",
			zap.String("type", string(event.Type)),
			zap.Uint64("guildID", event.GuildID),
			zap.Error(err))
	}
}

func orDefault(reason string) string {
	if reason == "" {
		return noReason
	}
	return reason
}
