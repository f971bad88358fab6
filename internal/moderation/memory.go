package moderation

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
)

// SupersededReason is recorded on a mute replaced by a newer one.
const SupersededReason = types.SupersededReason

// MemoryStore is an in-process Store used for development and tests.
// Records handed out are copies, so callers never observe later writes.
type MemoryStore struct {
	mu          sync.RWMutex
	warnings    map[string]*types.Warning
	punishments map[string]*types.Punishment
	logs        []*types.ModerationLog
	nextLogID   int64
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		warnings:    make(map[string]*types.Warning),
		punishments: make(map[string]*types.Punishment),
	}
}

func (s *MemoryStore) AddWarning(_ context.Context, warning *types.Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := *warning
	s.warnings[w.ID] = &w
	return nil
}

func (s *MemoryStore) DeactivateWarning(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.warnings[id]
	if !ok {
		return false, ErrNotFound
	}
	if !w.Active {
		return false, nil
	}

	w.Active = false
	return true, nil
}

func (s *MemoryStore) GetWarning(_ context.Context, id string) (*types.Warning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.warnings[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := *w
	return &c, nil
}

func (s *MemoryStore) ListActiveWarnings(_ context.Context, guildID uint64) ([]*types.Warning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Warning, 0)
	for _, w := range s.warnings {
		if w.GuildID == guildID && w.Active {
			c := *w
			result = append(result, &c)
		}
	}

	slices.SortFunc(result, func(a, b *types.Warning) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *MemoryStore) CountActiveWarnings(_ context.Context, guildID, userID uint64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, w := range s.warnings {
		if w.GuildID == guildID && w.UserID == userID && w.Active {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) AddPunishment(_ context.Context, punishment *types.Punishment) ([]*types.Punishment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded []*types.Punishment
	if punishment.Type == enum.PunishmentTypeMute && punishment.Active {
		for _, p := range s.punishments {
			if p.Active && p.Type == enum.PunishmentTypeMute &&
				p.GuildID == punishment.GuildID && p.UserID == punishment.UserID {
				deactivate(p, SupersededReason, punishment.Timestamp)
				c := *p
				superseded = append(superseded, &c)
			}
		}
	}

	p := *punishment
	s.punishments[p.ID] = &p
	return superseded, nil
}

func (s *MemoryStore) DeactivatePunishment(_ context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.punishments[id]
	if !ok {
		return false, ErrNotFound
	}
	if !p.Active {
		return false, nil
	}

	deactivate(p, reason, at)
	return true, nil
}

func (s *MemoryStore) GetPunishment(_ context.Context, id string) (*types.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.punishments[id]
	if !ok {
		return nil, ErrNotFound
	}

	c := *p
	return &c, nil
}

func (s *MemoryStore) ListActivePunishments(_ context.Context, guildID uint64) ([]*types.Punishment, error) {
	return s.filterPunishments(0, func(p *types.Punishment) bool {
		return p.GuildID == guildID && p.Active
	}, byTimestampDesc), nil
}

func (s *MemoryStore) ListDue(_ context.Context, now, leaseCutoff time.Time, limit int) ([]*types.Punishment, error) {
	return s.filterPunishments(limit, func(p *types.Punishment) bool {
		return p.IsDue(now) && leaseAvailable(p, leaseCutoff)
	}, byExpiresAt), nil
}

func (s *MemoryStore) ListFailed(_ context.Context, now time.Time, limit int) ([]*types.Punishment, error) {
	return s.filterPunishments(limit, func(p *types.Punishment) bool {
		return p.Active && p.EnforcementFailed && p.Type.Revocable() &&
			(p.ExpiresAt == nil || p.ExpiresAt.After(now))
	}, byTimestampAsc), nil
}

func (s *MemoryStore) ClaimRevoking(_ context.Context, id string, now, leaseCutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.punishments[id]
	if !ok {
		return false, ErrNotFound
	}
	if !p.IsDue(now) || !leaseAvailable(p, leaseCutoff) {
		return false, nil
	}

	p.RevokingSince = &now
	return true, nil
}

func (s *MemoryStore) ReleaseRevoking(_ context.Context, id string) error {
	return s.update(id, func(p *types.Punishment) {
		p.RevokingSince = nil
	})
}

func (s *MemoryStore) MarkEnforcementFailed(_ context.Context, id, message string) error {
	return s.update(id, func(p *types.Punishment) {
		p.RevokingSince = nil
		p.EnforcementFailed = true
		p.RetryCount++
		p.LastError = message
	})
}

func (s *MemoryStore) ClearEnforcementFailed(_ context.Context, id string) error {
	return s.update(id, func(p *types.Punishment) {
		p.EnforcementFailed = false
		p.LastError = ""
	})
}

func (s *MemoryStore) AppendLog(_ context.Context, entry *types.ModerationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	entry.ID = s.nextLogID

	e := *entry
	s.logs = append(s.logs, &e)
	return nil
}

func (s *MemoryStore) ListLogs(
	_ context.Context, guildID uint64, cursor *types.LogCursor, limit int,
) ([]*types.ModerationLog, *types.LogCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]*types.ModerationLog, 0, limit+1)
	for _, e := range s.logs {
		if e.GuildID != guildID {
			continue
		}
		if cursor != nil && afterCursor(e, cursor) {
			continue
		}
		c := *e
		logs = append(logs, &c)
	}

	slices.SortFunc(logs, func(a, b *types.ModerationLog) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(b.ID, a.ID))
	})

	var next *types.LogCursor
	if len(logs) > limit {
		last := logs[limit]
		next = &types.LogCursor{Timestamp: last.Timestamp, ID: last.ID}
		logs = logs[:limit]
	}

	return logs, next, nil
}

func (s *MemoryStore) update(id string, fn func(p *types.Punishment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.punishments[id]
	if !ok {
		return ErrNotFound
	}

	fn(p)
	return nil
}

func (s *MemoryStore) filterPunishments(
	limit int, keep func(p *types.Punishment) bool, order func(a, b *types.Punishment) int,
) []*types.Punishment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.Punishment, 0)
	for _, p := range s.punishments {
		if keep(p) {
			c := *p
			result = append(result, &c)
		}
	}

	slices.SortFunc(result, order)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func deactivate(p *types.Punishment, reason string, at time.Time) {
	p.Active = false
	p.RevokingSince = nil
	p.DeactivatedAt = &at
	p.DeactivationReason = reason
}

func leaseAvailable(p *types.Punishment, leaseCutoff time.Time) bool {
	return p.RevokingSince == nil || !p.RevokingSince.After(leaseCutoff)
}

// afterCursor reports whether the entry sorts before the cursor, i.e. on an earlier page.
func afterCursor(e *types.ModerationLog, cursor *types.LogCursor) bool {
	if e.Timestamp.Equal(cursor.Timestamp) {
		return e.ID > cursor.ID
	}
	return e.Timestamp.After(cursor.Timestamp)
}

func byTimestampDesc(a, b *types.Punishment) int {
	return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(a.ID, b.ID))
}

func byTimestampAsc(a, b *types.Punishment) int {
	return cmp.Or(a.Timestamp.Compare(b.Timestamp), cmp.Compare(a.ID, b.ID))
}

func byExpiresAt(a, b *types.Punishment) int {
	return cmp.Or(a.ExpiresAt.Compare(*b.ExpiresAt), cmp.Compare(a.ID, b.ID))
}
