package automod

import (
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/warden/internal/database/types/enum"
)

var (
	ErrUnknownRule   = errors.New("unknown rule")
	ErrUnknownAction = errors.New("unknown action")
)

// Intent is the concrete action a violation resolves to.
type Intent struct {
	Action        enum.Action
	Rule          RuleName
	Reason        string
	Duration      time.Duration // Zero means permanent for bans and is ignored for kicks
	DeleteMessage bool
}

// IsWarning reports whether the intent only records a warning.
func (i *Intent) IsWarning() bool {
	return i.Action == enum.ActionWarn
}

// Resolve maps the violated rule's configured punishment to an intent.
func Resolve(v *Violation, cfg *Config) (*Intent, error) {
	var (
		action        enum.Action
		durationMs    int64
		deleteMessage bool
	)

	switch v.Rule {
	case RuleSpam:
		action, durationMs = cfg.SpamProtection.Punishment, cfg.SpamProtection.DurationMs
	case RuleProfanity:
		action, durationMs = cfg.ProfanityFilter.Punishment, cfg.ProfanityFilter.DurationMs
		deleteMessage = cfg.ProfanityFilter.DeleteMessage
	case RuleLink:
		action, durationMs = cfg.LinkProtection.Punishment, cfg.LinkProtection.DurationMs
		deleteMessage = cfg.LinkProtection.DeleteMessage
	case RuleCaps:
		action, durationMs = cfg.CapsProtection.Punishment, cfg.CapsProtection.DurationMs
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, v.Rule)
	}

	return newIntent(v.Rule, v.Reason, action, durationMs, deleteMessage)
}

// Escalate returns the escalation punishment once a member's active warnings
// reach the configured threshold.
func Escalate(activeWarnings int, cfg *Config) (*Intent, bool) {
	esc := cfg.Escalation
	if !esc.Enabled || esc.WarnThreshold <= 0 || activeWarnings < esc.WarnThreshold {
		return nil, false
	}

	reason := fmt.Sprintf("Reached %d active warnings", activeWarnings)
	intent, err := newIntent("", reason, esc.Punishment, esc.DurationMs, false)
	if err != nil || intent.IsWarning() {
		return nil, false
	}

	return intent, true
}

func newIntent(rule RuleName, reason string, action enum.Action, durationMs int64, deleteMessage bool) (*Intent, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if action == enum.ActionMute && durationMs <= 0 {
		return nil, fmt.Errorf("%w: mute without a duration", ErrConfigInvalid)
	}

	intent := &Intent{
		Action:        action,
		Rule:          rule,
		Reason:        reason,
		DeleteMessage: deleteMessage,
	}

	if (action == enum.ActionMute || action == enum.ActionBan) && durationMs > 0 {
		intent.Duration = time.Duration(durationMs) * time.Millisecond
	}

	return intent, nil
}
