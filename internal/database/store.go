package database

import (
	"context"
	"time"

	"github.com/robalyx/warden/internal/database/types"
)

// Store adapts the repository to the moderation engine's store contract.
type Store struct {
	repo *Repository
}

// NewStore creates a store backed by the repository.
func NewStore(repo *Repository) *Store {
	return &Store{repo: repo}
}

func (s *Store) AddWarning(ctx context.Context, warning *types.Warning) error {
	return s.repo.Warning().Add(ctx, warning)
}

func (s *Store) DeactivateWarning(ctx context.Context, id string) (bool, error) {
	return s.repo.Warning().Deactivate(ctx, id)
}

func (s *Store) GetWarning(ctx context.Context, id string) (*types.Warning, error) {
	return s.repo.Warning().Get(ctx, id)
}

func (s *Store) ListActiveWarnings(ctx context.Context, guildID uint64) ([]*types.Warning, error) {
	return s.repo.Warning().ListActive(ctx, guildID)
}

func (s *Store) CountActiveWarnings(ctx context.Context, guildID, userID uint64) (int, error) {
	return s.repo.Warning().CountActive(ctx, guildID, userID)
}

func (s *Store) AddPunishment(ctx context.Context, punishment *types.Punishment) ([]*types.Punishment, error) {
	return s.repo.Punishment().Add(ctx, punishment)
}

func (s *Store) DeactivatePunishment(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	return s.repo.Punishment().Deactivate(ctx, id, reason, at)
}

func (s *Store) GetPunishment(ctx context.Context, id string) (*types.Punishment, error) {
	return s.repo.Punishment().Get(ctx, id)
}

func (s *Store) ListActivePunishments(ctx context.Context, guildID uint64) ([]*types.Punishment, error) {
	return s.repo.Punishment().ListActive(ctx, guildID)
}

func (s *Store) ListDue(ctx context.Context, now, leaseCutoff time.Time, limit int) ([]*types.Punishment, error) {
	return s.repo.Punishment().ListDue(ctx, now, leaseCutoff, limit)
}

func (s *Store) ListFailed(ctx context.Context, now time.Time, limit int) ([]*types.Punishment, error) {
	return s.repo.Punishment().ListFailed(ctx, now, limit)
}

func (s *Store) ClaimRevoking(ctx context.Context, id string, now, leaseCutoff time.Time) (bool, error) {
	return s.repo.Punishment().ClaimRevoking(ctx, id, now, leaseCutoff)
}

func (s *Store) ReleaseRevoking(ctx context.Context, id string) error {
	return s.repo.Punishment().ReleaseRevoking(ctx, id)
}

func (s *Store) MarkEnforcementFailed(ctx context.Context, id, message string) error {
	return s.repo.Punishment().MarkEnforcementFailed(ctx, id, message)
}

func (s *Store) ClearEnforcementFailed(ctx context.Context, id string) error {
	return s.repo.Punishment().ClearEnforcementFailed(ctx, id)
}

func (s *Store) AppendLog(ctx context.Context, entry *types.ModerationLog) error {
	return s.repo.Log().Append(ctx, entry)
}

func (s *Store) ListLogs(
	ctx context.Context, guildID uint64, cursor *types.LogCursor, limit int,
) ([]*types.ModerationLog, *types.LogCursor, error) {
	return s.repo.Log().List(ctx, guildID, cursor, limit)
}
