package setup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robalyx/warden/internal/automod"
	"github.com/robalyx/warden/internal/database"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/redis"
	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"go.uber.org/zap"
)

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = time.Minute
)

// ErrMigrationsPending is returned when the operator declines pending migrations.
var ErrMigrationsPending = errors.New("database migrations are pending")

// App bundles the dependencies shared by every command.
type App struct {
	Config       *config.Config        // Application configuration
	Logger       *zap.Logger           // Main application logger
	DBLogger     *zap.Logger           // Database-specific logger
	DB           database.Client       // Database connection pool, nil with the memory driver
	Store        moderation.Store      // Moderation record storage
	Configs      *automod.CachedSource // Guild auto-mod configurations
	RedisManager *redis.Manager        // Redis connection manager
	LogManager   *telemetry.Manager    // Log management system
	debugServer  *debugServer          // pprof server when enabled
}

// InitializeApp loads the configuration and connects every backing service.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string) (*App, error) {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Logging comes first to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		RedisManager: redis.NewManager(&cfg.Common.Redis, logger),
		LogManager:   logManager,
	}

	var source automod.ConfigSource

	switch cfg.Warden.Storage.Driver {
	case config.StorageDriverMemory:
		logger.Warn("Using in-memory storage, records are lost on restart")
		app.Store = moderation.NewMemoryStore()
		source = automod.NewMemorySource()
	default:
		db, err := checkAndRunMigrations(ctx, &cfg.Common.PostgreSQL, app.DBLogger, cfg.Warden.Storage.AutoMigrate)
		if err != nil {
			return nil, err
		}
		app.DB = db
		app.Store = db.Store()
		source = db.Model().AutoMod()
	}

	size := cfg.Warden.Cache.Size
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := config.Millis(cfg.Warden.Cache.TTL)
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	app.Configs = automod.NewCachedSource(source, size, ttl)

	if cfg.Common.Debug.EnablePprof {
		srv, err := startDebugServer(cfg.Common.Debug.PprofPort, logger)
		if err != nil {
			logger.Error("Failed to start pprof server", zap.Error(err))
		} else {
			app.debugServer = srv
			logger.Warn("pprof debugging endpoint enabled, do not use in production")
		}
	}

	return app, nil
}

// Emitter returns the event emitter for moderation events, publishing to Redis when enabled.
// Extra emitters receive every event as well.
func (a *App) Emitter(extra ...moderation.Emitter) (moderation.Emitter, error) {
	emitters := moderation.MultiEmitter(extra)

	if a.Config.Warden.Events.Redis {
		client, err := a.RedisManager.GetClient(redis.EventsDBIndex)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, moderation.NewRedisPublisher(client, a.Config.Warden.Events.ChannelPrefix, a.Logger))
	}

	if len(emitters) == 0 {
		return moderation.NopEmitter{}, nil
	}
	return emitters, nil
}

// NewService creates the moderation service on top of the app's storage.
func (a *App) NewService(enforcement moderation.Enforcement, emitter moderation.Emitter) *moderation.Service {
	return moderation.NewService(a.Store, a.Configs, enforcement, emitter, a.Logger,
		moderation.WithEnforcementTimeout(config.Millis(a.Config.Warden.Enforcement.Timeout)),
	)
}

// SchedulerConfig converts the configured scheduler settings.
func (a *App) SchedulerConfig() moderation.SchedulerConfig {
	s := a.Config.Warden.Scheduler
	cfg := moderation.DefaultSchedulerConfig()

	cfg.Interval = config.Millis(s.Interval)
	cfg.RevokeLease = config.Millis(s.RevokeLease)
	cfg.BatchSize = s.BatchSize
	cfg.Concurrency = s.Concurrency
	cfg.InitialBackoff = config.Millis(s.InitialBackoff)
	cfg.MaxBackoff = config.Millis(s.MaxBackoff)

	return cfg
}

// Cleanup shuts components down in reverse initialization order.
// Errors are logged so every component gets a chance to close.
func (a *App) Cleanup(ctx context.Context) {
	if a.debugServer != nil {
		a.debugServer.Shutdown(ctx)
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			log.Printf("Failed to close database connection: %v", err)
		}
	}

	// Redis last as other components might still publish during cleanup
	a.RedisManager.Close()

	_ = a.Logger.Sync()
	_ = a.DBLogger.Sync()

	if err := a.LogManager.Close(); err != nil {
		log.Printf("Failed to close log files: %v", err)
	}
}

// checkAndRunMigrations connects to the database and applies pending migrations,
// asking the operator first unless autoMigrate is set.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.PostgreSQL, dbLogger *zap.Logger, autoMigrate bool,
) (database.Client, error) {
	db, err := database.NewConnection(ctx, cfg, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := db.Migrator()
	if err := migrator.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	unapplied := ms.Unapplied()
	if len(unapplied) == 0 {
		return db, nil
	}

	if !autoMigrate {
		log.Printf("%d database migrations are pending. Would you like to run them now? (y/N)", len(unapplied))

		response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(response), "y") {
			_ = db.Close()
			return nil, ErrMigrationsPending
		}
	}

	_ = db.Close()
	return database.NewConnection(ctx, cfg, dbLogger, true)
}
