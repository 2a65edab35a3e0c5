package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"peer-sync/pkg/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logs:\n  level: debug\n"))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "sqlite", cfg.State.Backend)

	sc, err := cfg.SyncConfig()
	require.NoError(t, err)
	require.Equal(t, model.DefaultSyncConfig(), sc)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
local:
  base_url: http://10.0.0.5:8090
  secret: s3cret
sync:
  enabled: true
  interval: 30
  direction: cloud_to_local
  conflict_resolution: cloud_wins
`)
	t.Setenv("PEERSYNC_SYNC_INTERVAL", "45")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:8090", cfg.Local.BaseURL)
	require.Equal(t, "s3cret", cfg.Local.Secret)

	sc, err := cfg.SyncConfig()
	require.NoError(t, err)
	require.Equal(t, model.SyncConfig{Enabled: true, Interval: 45, Direction: model.CloudToLocal, ConflictResolution: model.CloudWins}, sc)
}

func TestLoadRejectsUnknownDirection(t *testing.T) {
	_, err := Load(writeConfig(t, "sync:\n  direction: upward\n"))
	require.Error(t, err)
}

func TestLoadRejectsShortInterval(t *testing.T) {
	_, err := Load(writeConfig(t, "sync:\n  enabled: true\n  interval: 5\n"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownStateBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "state:\n  backend: redis\n"))
	require.Error(t, err)
}
