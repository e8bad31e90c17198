package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL())
	assert.True(t, cfg.Refunds.RunOnStart)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server":{"port":"9000"},"database":{"path":"/tmp/file.db"},"refunds":{"sweep_interval":60}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("DATABASE_PATH", "/tmp/env.db")
	t.Setenv("REFUND_RUN_ON_START", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.SweepInterval())
	assert.False(t, cfg.Refunds.RunOnStart)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	cfg.Tracing.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.Refunds.SweepInterval = -1
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.RateLimit.Rate = 0
	assert.Error(t, cfg.Validate())
}
