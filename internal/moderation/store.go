package moderation

import (
	"context"
	"time"

	"github.com/robalyx/warden/internal/database/types"
)

// Store persists warnings, punishments and the moderation log.
//
// Deactivation is a compare-and-set on the active flag: it reports whether this
// caller performed the transition and is a no-op for inactive records.
// Writers hold the member's key lock; reads may run without it.
type Store interface {
	AddWarning(ctx context.Context, warning *types.Warning) error
	DeactivateWarning(ctx context.Context, id string) (bool, error)
	GetWarning(ctx context.Context, id string) (*types.Warning, error)
	ListActiveWarnings(ctx context.Context, guildID uint64) ([]*types.Warning, error)
	CountActiveWarnings(ctx context.Context, guildID, userID uint64) (int, error)

	// AddPunishment stores the punishment. A new active mute deactivates the
	// member's previous active mute, which is returned.
	AddPunishment(ctx context.Context, punishment *types.Punishment) ([]*types.Punishment, error)
	DeactivatePunishment(ctx context.Context, id, reason string, at time.Time) (bool, error)
	GetPunishment(ctx context.Context, id string) (*types.Punishment, error)
	ListActivePunishments(ctx context.Context, guildID uint64) ([]*types.Punishment, error)

	// ListDue returns active punishments whose expiry passed and that are not
	// leased by a sweep, or whose lease started at or before leaseCutoff.
	ListDue(ctx context.Context, now, leaseCutoff time.Time, limit int) ([]*types.Punishment, error)
	// ListFailed returns unexpired active mutes and bans whose enforcement failed.
	ListFailed(ctx context.Context, now time.Time, limit int) ([]*types.Punishment, error)
	// ClaimRevoking takes the lease on a due punishment.
	ClaimRevoking(ctx context.Context, id string, now, leaseCutoff time.Time) (bool, error)
	ReleaseRevoking(ctx context.Context, id string) error
	// MarkEnforcementFailed flags the punishment, bumps its retry count and releases its lease.
	MarkEnforcementFailed(ctx context.Context, id, message string) error
	ClearEnforcementFailed(ctx context.Context, id string) error

	AppendLog(ctx context.Context, entry *types.ModerationLog) error
	ListLogs(
		ctx context.Context, guildID uint64, cursor *types.LogCursor, limit int,
	) ([]*types.ModerationLog, *types.LogCursor, error)
}
