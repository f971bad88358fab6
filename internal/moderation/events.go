package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
)

// Event notifies external collaborators about a moderation action.
type Event struct {
	Kind        enum.EventKind `json:"kind"`
	GuildID     uint64         `json:"guildId,string"`
	Type        enum.LogAction `json:"type"`
	TargetID    uint64         `json:"targetId,string"`
	ModeratorID string         `json:"moderatorId"`
	Reason      string         `json:"reason"`
	Timestamp   time.Time      `json:"timestamp"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	RecordID    string         `json:"recordId,omitempty"`
}

// IsAutoMod reports whether the event was caused by auto-mod.
func (e *Event) IsAutoMod() bool {
	return e.Kind == enum.EventKindAutoMod
}

// Emitter delivers events. Failures are logged by the caller and never fail the action.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// eventKind derives the event kind from the acting moderator.
func eventKind(moderatorID string) enum.EventKind {
	if moderatorID == types.SystemModeratorID {
		return enum.EventKindAutoMod
	}
	return enum.EventKindModeration
}

// MultiEmitter fans an event out to several emitters.
type MultiEmitter []Emitter

// Emit delivers the event to every emitter and joins their errors.
func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopEmitter drops every event.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(context.Context, *Event) error { return nil }
