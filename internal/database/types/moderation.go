package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database/types/enum"
)

const (
	// SystemModeratorID is the moderator ID recorded on auto-mod actions.
	SystemModeratorID = "system"
	// SupersededReason is recorded on a mute replaced by a newer one.
	SupersededReason = "superseded by a new mute"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrInvalidPunishment = errors.New("invalid punishment")
)

// Warning is a recorded admonishment. Warnings are deactivated, never deleted.
type Warning struct {
	ID          string    `bun:",pk"           json:"id"`
	GuildID     uint64    `bun:",notnull"      json:"guildId,string"`
	UserID      uint64    `bun:",notnull"      json:"userId,string"`
	Reason      string    `bun:",notnull"      json:"reason"`
	ModeratorID string    `bun:",notnull"      json:"moderatorId"`
	Timestamp   time.Time `bun:",notnull"      json:"timestamp"`
	Active      bool      `bun:",notnull"      json:"active"`
}

// IsSystem reports whether the warning was issued by auto-mod.
func (w *Warning) IsSystem() bool {
	return w.ModeratorID == SystemModeratorID
}

// Punishment is an enforced restriction with an optional expiry.
type Punishment struct {
	ID                 string              `bun:",pk"                json:"id"`
	GuildID            uint64              `bun:",notnull"           json:"guildId,string"`
	UserID             uint64              `bun:",notnull"           json:"userId,string"`
	Type               enum.PunishmentType `bun:",notnull"           json:"type"`
	Reason             string              `bun:",notnull"           json:"reason"`
	ModeratorID        string              `bun:",notnull"           json:"moderatorId"`
	DurationMs         *int64              `bun:",nullzero"          json:"durationMs,omitempty"`
	ExpiresAt          *time.Time          `bun:",nullzero"          json:"expiresAt,omitempty"` // Null for permanent punishments
	Active             bool                `bun:",notnull"           json:"active"`
	Timestamp          time.Time           `bun:",notnull"           json:"timestamp"`
	EnforcementFailed  bool                `bun:",notnull"           json:"enforcementFailed"`
	RetryCount         int                 `bun:",notnull"           json:"retryCount"`
	LastError          string              `bun:",notnull"           json:"lastError,omitempty"`
	RevokingSince      *time.Time          `bun:",nullzero"          json:"revokingSince,omitempty"` // Lease held by a sweep lifting the punishment
	DeactivatedAt      *time.Time          `bun:",nullzero"          json:"deactivatedAt,omitempty"`
	DeactivationReason string              `bun:",notnull"           json:"deactivationReason,omitempty"`
}

// IsPermanent reports whether the punishment has no expiry.
func (p *Punishment) IsPermanent() bool {
	return p.ExpiresAt == nil
}

// IsDue reports whether the punishment is active and its expiry has passed.
func (p *Punishment) IsDue(now time.Time) bool {
	return p.Active && p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Duration returns the configured duration, or zero for permanent punishments.
func (p *Punishment) Duration() time.Duration {
	if p.DurationMs == nil {
		return 0
	}
	return time.Duration(*p.DurationMs) * time.Millisecond
}

// ModerationLog is an append-only audit record.
type ModerationLog struct {
	ID          int64          `bun:",pk,autoincrement" json:"id,string"`
	GuildID     uint64         `bun:",notnull"          json:"guildId,string"`
	Action      enum.LogAction `bun:",notnull"          json:"action"`
	TargetID    uint64         `bun:",notnull"          json:"targetId,string"` // User or channel the action applied to
	ModeratorID string         `bun:",notnull"          json:"moderatorId"`
	Reason      string         `bun:",notnull"          json:"reason"`
	Timestamp   time.Time      `bun:",notnull"          json:"timestamp"`
}

// LogCursor points at a position in a guild's moderation log.
type LogCursor struct {
	Timestamp time.Time
	ID        int64
}

// String encodes the cursor for use in query strings.
func (c *LogCursor) String() string {
	return strconv.FormatInt(c.Timestamp.UnixNano(), 10) + "_" + strconv.FormatInt(c.ID, 10)
}

// ParseLogCursor decodes a cursor produced by LogCursor.String.
func ParseLogCursor(s string) (*LogCursor, error) {
	ts, id, ok := strings.Cut(s, "_")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	seq, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	return &LogCursor{Timestamp: time.Unix(0, nanos).UTC(), ID: seq}, nil
}

// AutoModSetting stores a guild's auto-moderation configuration.
type AutoModSetting struct {
	GuildID   uint64         `bun:",pk"                json:"guildId,string"`
	Config    automod.Config `bun:",type:jsonb,notnull" json:"config"`
	UpdatedAt time.Time      `bun:",notnull"           json:"updatedAt"`
}
