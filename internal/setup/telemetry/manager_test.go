package telemetry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/warden/internal/setup/config"
	"github.com/robalyx/warden/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreatesSessionLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manager := telemetry.NewManager(telemetry.ServiceAPI, dir, &config.Debug{LogLevel: "debug", MaxLogsToKeep: 3})
	t.Cleanup(func() { _ = manager.Close() })

	logger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	logger.Info("hello")
	dbLogger.Info("query")
	require.NoError(t, logger.Sync())

	session := manager.GetCurrentSessionDir()
	assert.FileExists(t, filepath.Join(session, "api.log"))
	assert.FileExists(t, filepath.Join(session, "database.log"))
	assert.NotEmpty(t, manager.GetInstanceID())
}

func TestManagerRotatesOldSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.Mkdir(path, 0o755))
		require.NoError(t, os.Chtimes(path, old, old))
		old = old.Add(time.Minute)
	}

	manager := telemetry.NewManager(telemetry.ServiceEngine, dir, &config.Debug{LogLevel: "info", MaxLogsToKeep: 2})
	t.Cleanup(func() { _ = manager.Close() })

	_, _, err := manager.GetLoggers()
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NoDirExists(t, filepath.Join(dir, "a"))
	assert.NoDirExists(t, filepath.Join(dir, "b"))
	assert.DirExists(t, filepath.Join(dir, "c"))
}

func TestManagerRejectsBadLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(telemetry.ServiceSweep, t.TempDir(), &config.Debug{LogLevel: "loud"})
	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}
