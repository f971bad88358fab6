package automod

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robalyx/warden/internal/database/types/enum"
)

// ErrConfigInvalid is returned when a configuration fails validation.
var ErrConfigInvalid = errors.New("invalid automod config")

// MaxMuteDuration is the longest mute Discord can enforce with a member timeout.
const MaxMuteDuration = 28 * 24 * time.Hour

// Config is the auto-moderation configuration of a single guild.
type Config struct {
	SpamProtection  SpamProtection  `json:"spamProtection"`
	ProfanityFilter ProfanityFilter `json:"profanityFilter"`
	LinkProtection  LinkProtection  `json:"linkProtection"`
	CapsProtection  CapsProtection  `json:"capsProtection"`
	AntiRaid        AntiRaid        `json:"antiRaid"`
	Escalation      Escalation      `json:"escalation"`
}

// SpamProtection limits how many messages a member may send within a window.
type SpamProtection struct {
	Enabled      bool        `json:"enabled"`
	MaxMessages  int         `json:"maxMessages"`
	TimeWindowMs int64       `json:"timeWindowMs"`
	Punishment   enum.Action `json:"punishment"`
	DurationMs   int64       `json:"durationMs"`
}

// ProfanityFilter matches messages against a word list.
type ProfanityFilter struct {
	Enabled       bool        `json:"enabled"`
	Words         []string    `json:"words"`
	Punishment    enum.Action `json:"punishment"`
	DurationMs    int64       `json:"durationMs"`
	DeleteMessage bool        `json:"deleteMessage"`
}

// LinkProtection rejects links to domains outside the whitelist.
type LinkProtection struct {
	Enabled       bool        `json:"enabled"`
	Whitelist     []string    `json:"whitelist"`
	Punishment    enum.Action `json:"punishment"`
	DurationMs    int64       `json:"durationMs"`
	DeleteMessage bool        `json:"deleteMessage"`
}

// CapsProtection limits the share of uppercase letters in longer messages.
type CapsProtection struct {
	Enabled           bool        `json:"enabled"`
	MaxCapsPercentage float64     `json:"maxCapsPercentage"`
	MinLength         int         `json:"minLength"`
	Punishment        enum.Action `json:"punishment"`
	DurationMs        int64       `json:"durationMs"`
}

// AntiRaid detects bursts of member joins.
type AntiRaid struct {
	Enabled            bool            `json:"enabled"`
	MaxJoins           int             `json:"maxJoins"`
	TimeWindowMs       int64           `json:"timeWindowMs"`
	Action             enum.RaidAction `json:"action"`
	LockdownChannelIDs []snowflake.ID  `json:"lockdownChannelIds"`
}

// Escalation turns accumulated auto-mod warnings into a punishment.
type Escalation struct {
	Enabled       bool        `json:"enabled"`
	WarnThreshold int         `json:"warnThreshold"`
	Punishment    enum.Action `json:"punishment"`
	DurationMs    int64       `json:"durationMs"`
}

// Window returns the spam window as a duration.
func (s SpamProtection) Window() time.Duration {
	return time.Duration(s.TimeWindowMs) * time.Millisecond
}

// Window returns the join window as a duration.
func (a AntiRaid) Window() time.Duration {
	return time.Duration(a.TimeWindowMs) * time.Millisecond
}

// DefaultConfig returns the configuration used for guilds that have not stored one.
// Every rule is disabled but carries sensible parameters for when it is switched on.
func DefaultConfig() *Config {
	return &Config{
		SpamProtection: SpamProtection{
			MaxMessages:  5,
			TimeWindowMs: 5000,
			Punishment:   enum.ActionMute,
			DurationMs:   int64((10 * time.Minute) / time.Millisecond),
		},
		ProfanityFilter: ProfanityFilter{
			Words:         []string{},
			Punishment:    enum.ActionWarn,
			DeleteMessage: true,
		},
		LinkProtection: LinkProtection{
			Whitelist:     []string{},
			Punishment:    enum.ActionWarn,
			DeleteMessage: true,
		},
		CapsProtection: CapsProtection{
			MaxCapsPercentage: 70,
			MinLength:         10,
			Punishment:        enum.ActionWarn,
		},
		AntiRaid: AntiRaid{
			MaxJoins:           10,
			TimeWindowMs:       60000,
			Action:             enum.RaidActionAlert,
			LockdownChannelIDs: []snowflake.ID{},
		},
		Escalation: Escalation{
			WarnThreshold: 3,
			Punishment:    enum.ActionMute,
			DurationMs:    int64(time.Hour / time.Millisecond),
		},
	}
}

// Validate checks the enabled rules for malformed thresholds.
// Disabled rules are not checked so a guild can store a partial config.
func (c *Config) Validate() error {
	var problems []string

	if s := c.SpamProtection; s.Enabled {
		if s.MaxMessages <= 0 {
			problems = append(problems, "spamProtection.maxMessages must be positive")
		}
		if s.TimeWindowMs <= 0 {
			problems = append(problems, "spamProtection.timeWindowMs must be positive")
		}
		if s.Punishment == enum.ActionBan {
			problems = append(problems, "spamProtection.punishment must be warn, mute or kick")
		} else {
			problems = checkPunishment(problems, "spamProtection", s.Punishment, s.DurationMs)
		}
	}

	if p := c.ProfanityFilter; p.Enabled {
		for i, word := range p.Words {
			if strings.TrimSpace(word) == "" {
				problems = append(problems, fmt.Sprintf("profanityFilter.words[%d] is empty", i))
			}
		}
		problems = checkPunishment(problems, "profanityFilter", p.Punishment, p.DurationMs)
	}

	if l := c.LinkProtection; l.Enabled {
		for i, domain := range l.Whitelist {
			if normalizeDomain(domain) == "" {
				problems = append(problems, fmt.Sprintf("linkProtection.whitelist[%d] is empty", i))
			}
		}
		problems = checkPunishment(problems, "linkProtection", l.Punishment, l.DurationMs)
	}

	if cp := c.CapsProtection; cp.Enabled {
		if cp.MaxCapsPercentage < 0 || cp.MaxCapsPercentage > 100 {
			problems = append(problems, "capsProtection.maxCapsPercentage must be within [0, 100]")
		}
		if cp.MinLength <= 0 {
			problems = append(problems, "capsProtection.minLength must be positive")
		}
		problems = checkPunishment(problems, "capsProtection", cp.Punishment, cp.DurationMs)
	}

	if r := c.AntiRaid; r.Enabled {
		if r.MaxJoins <= 0 {
			problems = append(problems, "antiRaid.maxJoins must be positive")
		}
		if r.TimeWindowMs <= 0 {
			problems = append(problems, "antiRaid.timeWindowMs must be positive")
		}
		if !r.Action.IsValid() {
			problems = append(problems, fmt.Sprintf("antiRaid.action %q is not lockdown or alert", r.Action))
		}
		if r.Action == enum.RaidActionLockdown && len(r.LockdownChannelIDs) == 0 {
			problems = append(problems, "antiRaid.lockdownChannelIds must not be empty for lockdown")
		}
	}

	if e := c.Escalation; e.Enabled {
		if e.WarnThreshold <= 0 {
			problems = append(problems, "escalation.warnThreshold must be positive")
		}
		if e.Punishment == enum.ActionWarn {
			problems = append(problems, "escalation.punishment must be mute, kick or ban")
		} else {
			problems = checkPunishment(problems, "escalation", e.Punishment, e.DurationMs)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, strings.Join(problems, "; "))
	}

	return nil
}

// checkPunishment validates a rule's action and its duration.
func checkPunishment(problems []string, rule string, action enum.Action, durationMs int64) []string {
	if !action.IsValid() {
		return append(problems, fmt.Sprintf("%s.punishment %q is not a known action", rule, action))
	}
	if durationMs < 0 {
		problems = append(problems, rule+".durationMs must not be negative")
	}
	if action == enum.ActionMute && durationMs <= 0 {
		problems = append(problems, rule+".durationMs must be positive for mute")
	}
	if action == enum.ActionMute && durationMs > MaxMuteDuration.Milliseconds() {
		problems = append(problems, fmt.Sprintf("%s.durationMs must not exceed %d for mute",
			rule, MaxMuteDuration.Milliseconds()))
	}
	return problems
}
