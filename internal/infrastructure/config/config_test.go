package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, int64(10*1024*1024), cfg.Storage.MaxFileSize)
	assert.Equal(t, 100, cfg.Storage.MaxPopulation)
	assert.False(t, cfg.Storage.AutoEvict)
	assert.Equal(t, 30*24*time.Hour, cfg.Storage.SweepAge)
	assert.Equal(t, 5, cfg.RateLimit.SessionLimit)
	assert.Equal(t, 20, cfg.RateLimit.GlobalLimit)
	assert.Equal(t, time.Minute, cfg.RateLimit.SessionWindow)
	assert.Equal(t, 1000, cfg.Sessions.MaxMessages)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LOOM_PORT", "9100")
	t.Setenv("LOOM_SNAPSHOT_MAX_COUNT", "7")
	t.Setenv("LOOM_SNAPSHOT_AUTO_EVICT", "true")
	t.Setenv("LOOM_RESUME_SESSION_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Storage.MaxPopulation)
	assert.True(t, cfg.Storage.AutoEvict)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.SessionWindow)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	t.Setenv("LOOM_SNAPSHOT_MAX_COUNT", "not-a-number")

	cfg := LoadOrDefault()
	assert.Equal(t, 100, cfg.Storage.MaxPopulation)
}
