package enum

// Action is the action configured for a message rule.
type Action string

const (
	ActionWarn Action = "warn"
	ActionMute Action = "mute"
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
)

// IsValid reports whether the action is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionWarn, ActionMute, ActionKick, ActionBan:
		return true
	default:
		return false
	}
}

// PunishmentType returns the punishment type for a restricting action.
// Warnings have no punishment type and report false.
func (a Action) PunishmentType() (PunishmentType, bool) {
	switch a {
	case ActionMute:
		return PunishmentTypeMute, true
	case ActionKick:
		return PunishmentTypeKick, true
	case ActionBan:
		return PunishmentTypeBan, true
	case ActionWarn:
		return "", false
	default:
		return "", false
	}
}

// PunishmentType is the kind of restriction a punishment record carries.
type PunishmentType string

const (
	PunishmentTypeMute PunishmentType = "mute"
	PunishmentTypeKick PunishmentType = "kick"
	PunishmentTypeBan  PunishmentType = "ban"
)

// IsValid reports whether the punishment type is known.
func (p PunishmentType) IsValid() bool {
	return p == PunishmentTypeMute || p == PunishmentTypeKick || p == PunishmentTypeBan
}

// Revocable reports whether the punishment is lifted on expiry or removal.
// Kicks are one-shot and have nothing to lift.
func (p PunishmentType) Revocable() bool {
	return p == PunishmentTypeMute || p == PunishmentTypeBan
}

// RaidAction is what happens when the join rate is exceeded.
type RaidAction string

const (
	// RaidActionLockdown enables slowmode on the configured channels.
	RaidActionLockdown RaidAction = "lockdown"
	// RaidActionAlert only records the raid.
	RaidActionAlert RaidAction = "alert"
)

// IsValid reports whether the raid action is known.
func (r RaidAction) IsValid() bool {
	return r == RaidActionLockdown || r == RaidActionAlert
}

// LogAction is the action recorded in a moderation log entry.
type LogAction string

const (
	LogActionWarn                 LogAction = "warn"
	LogActionMute                 LogAction = "mute"
	LogActionKick                 LogAction = "kick"
	LogActionBan                  LogAction = "ban"
	LogActionWarningRemoved       LogAction = "warning_removed"
	LogActionPunishmentRemoved    LogAction = "punishment_removed"
	LogActionPunishmentExpired    LogAction = "punishment_expired"
	LogActionPunishmentSuperseded LogAction = "punishment_superseded"
	LogActionEnforcementFailed    LogAction = "enforcement_failed"
	LogActionRaidDetected         LogAction = "raid_detected"
	LogActionMessageDeleted       LogAction = "message_deleted"
)

// LogActionFor returns the log action recorded when a punishment of the given type is issued.
func LogActionFor(p PunishmentType) LogAction {
	switch p {
	case PunishmentTypeMute:
		return LogActionMute
	case PunishmentTypeKick:
		return LogActionKick
	case PunishmentTypeBan:
		return LogActionBan
	default:
		return LogAction(p)
	}
}

// EventKind distinguishes actions taken by a human moderator from auto-mod actions.
type EventKind string

const (
	EventKindModeration EventKind = "moderationAction"
	EventKindAutoMod    EventKind = "autoModAction"
)
