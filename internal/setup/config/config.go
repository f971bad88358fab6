package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidStorageDriver  = errors.New("invalid storage driver")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// EnvPrefix marks environment variables that override file settings.
// WARDEN_POSTGRESQL__HOST overrides postgresql.host.
const EnvPrefix = "WARDEN_"

// Current version of the config files.
const (
	CurrentCommonVersion = 1
	CurrentWardenVersion = 1
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig `koanf:"common"`
	Warden WardenConfig `koanf:"warden"`
}

// CommonConfig contains connection settings shared by every command.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
}

// WardenConfig contains the moderation engine configuration.
type WardenConfig struct {
	// Version of the warden config.
	Version     int         `koanf:"version"`
	Discord     Discord     `koanf:"discord"`
	API         API         `koanf:"api"`
	Scheduler   Scheduler   `koanf:"scheduler"`
	Enforcement Enforcement `koanf:"enforcement"`
	Storage     Storage     `koanf:"storage"`
	Cache       Cache       `koanf:"cache"`
	Events      Events      `koanf:"events"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum size of a log file in megabytes before it is rotated.
	MaxLogSize int `koanf:"max_log_size"`
	// Mirror logs to stderr.
	Console bool `koanf:"console"`
	// Enable pprof debugging.
	EnablePprof bool `koanf:"enable_pprof"`
	// pprof server port.
	PprofPort int `koanf:"pprof_port"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Require TLS.
	SSL bool `koanf:"ssl"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Discord contains Discord bot configuration.
type Discord struct {
	// Discord bot token for authentication.
	Token string `koanf:"token"`
	// Maximum events handled concurrently.
	MaxConcurrentEvents int64 `koanf:"max_concurrent_events"`
	// Send a direct message to punished members.
	NotifyMembers bool `koanf:"notify_members"`
}

// API contains dashboard REST API configuration.
type API struct {
	// Listen host.
	Host string `koanf:"host"`
	// Listen port.
	Port int `koanf:"port"`
	// Bearer token required on /v1 routes. Empty disables authentication.
	Token string `koanf:"token"`
	// Graceful shutdown timeout in milliseconds.
	ShutdownTimeout int `koanf:"shutdown_timeout"`
	// Sustained requests per second per client IP. Zero disables rate limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Requests a client may send at once.
	BurstSize int `koanf:"burst_size"`
	// Rejected requests in a row before a client is blocked.
	StrikeLimit int `koanf:"strike_limit"`
	// Block duration in seconds.
	BlockDuration int `koanf:"block_duration"`
}

// Scheduler contains punishment expiry sweep configuration.
type Scheduler struct {
	// Sweep interval in milliseconds.
	Interval int `koanf:"interval"`
	// Age in milliseconds after which a revoking lease is considered stale.
	RevokeLease int `koanf:"revoke_lease"`
	// Maximum records read per sweep.
	BatchSize int `koanf:"batch_size"`
	// Records processed concurrently.
	Concurrency int `koanf:"concurrency"`
	// Initial retry delay in milliseconds for failed records.
	InitialBackoff int `koanf:"initial_backoff"`
	// Maximum retry delay in milliseconds for failed records.
	MaxBackoff int `koanf:"max_backoff"`
	// Interval in milliseconds at which idle rate windows are pruned.
	JanitorInterval int `koanf:"janitor_interval"`
	// Idle time in milliseconds after which a rate window is dropped.
	WindowIdle int `koanf:"window_idle"`
	// Heartbeat TTL in milliseconds for the scheduler status key.
	HeartbeatTTL int `koanf:"heartbeat_ttl"`
}

// Enforcement contains platform action configuration.
type Enforcement struct {
	// Timeout in milliseconds for each platform call.
	Timeout int `koanf:"timeout"`
	// Slowmode applied to channels during a raid lockdown, in seconds.
	SlowmodeSeconds int `koanf:"slowmode_seconds"`
	// Log actions without performing them.
	DryRun bool `koanf:"dry_run"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Driver is "postgres" or "memory".
	Driver string `koanf:"driver"`
	// Run pending migrations on startup without asking.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// Cache contains the guild configuration cache settings.
type Cache struct {
	// Maximum cached guild configurations.
	Size int `koanf:"size"`
	// Time to live in milliseconds.
	TTL int `koanf:"ttl"`
}

// Events contains event publishing configuration.
type Events struct {
	// Publish events to Redis.
	Redis bool `koanf:"redis"`
	// Channel prefix; the guild ID is appended.
	ChannelPrefix string `koanf:"channel_prefix"`
}

// Millis converts a millisecond setting to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// LoadConfig loads the configuration from the config files and environment.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadConfigFrom([]string{
		".warden",
		homeDir + "/.warden/config",
		"/etc/warden/config",
		"/app/config",
		"config",
		".",
	})
}

// LoadConfigFrom loads the configuration from the first matching path for each file.
func LoadConfigFrom(configPaths []string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	for _, configName := range []string{"common", "warden"} {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if _, err := os.Stat(configPath); err != nil {
				continue
			}

			// Each file is mounted under its own top-level key
			sub := koanf.New(".")
			if err := sub.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, "", fmt.Errorf("failed to parse %s: %w", configPath, err)
			}

			if err := k.MergeAt(sub, configName); err != nil {
				return nil, "", fmt.Errorf("failed to merge %s: %w", configPath, err)
			}

			configLoaded = true
			if usedConfigPath == "" {
				usedConfigPath = path
			}

			break
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	if err := loadEnv(k); err != nil {
		return nil, "", err
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("warden", config.Warden.Version, CurrentWardenVersion); err != nil {
		return nil, "", err
	}

	switch config.Warden.Storage.Driver {
	case "":
		config.Warden.Storage.Driver = StorageDriverPostgres
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidStorageDriver, config.Warden.Storage.Driver)
	}

	return &config, usedConfigPath, nil
}

// loadEnv applies WARDEN_ overrides. Settings from common.toml and warden.toml
// share one namespace, so a variable is routed to whichever file defines the key.
func loadEnv(k *koanf.Koanf) error {
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
		for _, root := range []string{"common", "warden"} {
			if k.Exists(root + "." + key) {
				return root + "." + key
			}
		}
		return "warden." + key
	}), nil)
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/warden/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
