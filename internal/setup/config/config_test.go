package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/warden/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commonTOML = `
version = 1

[debug]
log_level = "info"
max_logs_to_keep = 5

[postgresql]
host = "localhost"
port = 5432
db_name = "warden"
`

const wardenTOML = `
version = 1

[scheduler]
interval = 5000
concurrency = 8

[storage]
driver = "memory"
`

func writeConfigs(t *testing.T, common, warden string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.toml"), []byte(common), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warden.toml"), []byte(warden), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := writeConfigs(t, commonTOML, wardenTOML)

	cfg, used, err := config.LoadConfigFrom([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)
	assert.Equal(t, dir, used)
	assert.Equal(t, "localhost", cfg.Common.PostgreSQL.Host)
	assert.Equal(t, 5432, cfg.Common.PostgreSQL.Port)
	assert.Equal(t, 8, cfg.Warden.Scheduler.Concurrency)
	assert.Equal(t, config.StorageDriverMemory, cfg.Warden.Storage.Driver)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfigs(t, commonTOML, wardenTOML)
	t.Setenv("WARDEN_POSTGRESQL__HOST", "db.internal")
	t.Setenv("WARDEN_SCHEDULER__CONCURRENCY", "16")

	cfg, _, err := config.LoadConfigFrom([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Common.PostgreSQL.Host)
	assert.Equal(t, 16, cfg.Warden.Scheduler.Concurrency)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		common  string
		warden  string
		wantErr error
	}{
		{
			name:    "missing version",
			common:  "[debug]\nlog_level = \"info\"\n",
			warden:  wardenTOML,
			wantErr: config.ErrConfigVersionMissing,
		},
		{
			name:    "version mismatch",
			common:  commonTOML,
			warden:  "version = 99\n",
			wantErr: config.ErrConfigVersionMismatch,
		},
		{
			name:    "unknown storage driver",
			common:  commonTOML,
			warden:  "version = 1\n[storage]\ndriver = \"sqlite\"\n",
			wantErr: config.ErrInvalidStorageDriver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := writeConfigs(t, tt.common, tt.warden)
			_, _, err := config.LoadConfigFrom([]string{dir})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, _, err := config.LoadConfigFrom([]string{t.TempDir()})
		require.ErrorIs(t, err, config.ErrConfigFileNotFound)
	})
}
