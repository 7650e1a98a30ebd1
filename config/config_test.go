package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point the file lookup at a path that does not exist so only the
	// built-in defaults apply.
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "roomsync", cfg.Redis.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Persist.Debounce)
	assert.Equal(t, 15*time.Second, cfg.Persist.MaxWait)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
persist:
  debounce: 500ms
  max_wait: 5s
`), 0o644))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Persist.Debounce)
	assert.Equal(t, 5*time.Second, cfg.Persist.MaxWait)
	// Untouched settings keep their defaults.
	assert.Equal(t, "mongodb://127.0.0.1:27017", cfg.Mongo.URI)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: \"file:6379\"\n"), 0o644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ROOMSYNC_REDIS_ADDR", "env:6379")
	t.Setenv("ROOMSYNC_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Persist.Debounce = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateMaxWaitBelowDebounce(t *testing.T) {
	cfg := defaultConfig()
	cfg.Persist.MaxWait = cfg.Persist.Debounce / 2
	assert.Error(t, cfg.Validate())
}

func TestValidateUnknownLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())
}
