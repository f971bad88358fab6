package automod

import (
	"slices"
	"sync"
	"time"
)

// MemberKey identifies a member within a guild.
type MemberKey struct {
	GuildID uint64
	UserID  uint64
}

// Window is a sliding list of event timestamps.
type Window struct {
	mu     sync.Mutex
	times  []time.Time
	lastAt time.Time
}

// Add records an event at now, drops events that fell out of the window
// and returns the number of events left inside it.
func (w *Window) Add(now time.Time, span time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now, span)
	w.times = append(w.times, now)
	if now.After(w.lastAt) {
		w.lastAt = now
	}

	return len(w.times)
}

// Count returns the number of events inside the window ending at now.
func (w *Window) Count(now time.Time, span time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now, span)
	return len(w.times)
}

// Reset clears all recorded events.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times = w.times[:0]
}

// IdleSince reports whether the window saw no events after the cutoff.
func (w *Window) IdleSince(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return !w.lastAt.After(cutoff)
}

func (w *Window) pruneLocked(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	w.times = slices.DeleteFunc(w.times, func(t time.Time) bool {
		return t.Before(cutoff)
	})
}
