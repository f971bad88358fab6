package automod

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v3"
)

// ConfigSource loads and stores guild configurations.
// Get returns DefaultConfig for guilds without a stored config.
// Returned configs are shared and must be treated as read-only.
type ConfigSource interface {
	Get(ctx context.Context, guildID uint64) (*Config, error)
	Put(ctx context.Context, guildID uint64, cfg *Config) error
}

// CachedSource keeps recently used configs in an expiring LRU in front of another source.
type CachedSource struct {
	source ConfigSource
	cache  *expirable.LRU[uint64, *Config]
}

// NewCachedSource wraps a source with a cache of the given size and TTL.
func NewCachedSource(source ConfigSource, size int, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  expirable.NewLRU[uint64, *Config](size, nil, ttl),
	}
}

// Get returns the cached config or loads it from the underlying source.
func (s *CachedSource) Get(ctx context.Context, guildID uint64) (*Config, error) {
	if cfg, ok := s.cache.Get(guildID); ok {
		return cfg, nil
	}

	cfg, err := s.source.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}

	s.cache.Add(guildID, cfg)
	return cfg, nil
}

// Put writes the config through and refreshes the cache entry.
func (s *CachedSource) Put(ctx context.Context, guildID uint64, cfg *Config) error {
	if err := s.source.Put(ctx, guildID, cfg); err != nil {
		s.cache.Remove(guildID)
		return err
	}

	s.cache.Add(guildID, cfg)
	return nil
}

// Invalidate drops a guild's cached config.
func (s *CachedSource) Invalidate(guildID uint64) {
	s.cache.Remove(guildID)
}

// MemorySource keeps configs in process memory.
type MemorySource struct {
	configs *xsync.MapOf[uint64, *Config]
}

// NewMemorySource creates an empty in-memory config source.
func NewMemorySource() *MemorySource {
	return &MemorySource{configs: xsync.NewMapOf[uint64, *Config]()}
}

// Get returns the stored config or the default one.
func (s *MemorySource) Get(_ context.Context, guildID uint64) (*Config, error) {
	if cfg, ok := s.configs.Load(guildID); ok {
		return cfg, nil
	}
	return DefaultConfig(), nil
}

// Put stores the config.
func (s *MemorySource) Put(_ context.Context, guildID uint64, cfg *Config) error {
	s.configs.Store(guildID, cfg)
	return nil
}
