package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "./data/cashback.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Minute, cfg.AuditInterval())
	assert.Equal(t, 2*time.Second, cfg.LockTimeout())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_PATH", ":memory:")
	t.Setenv("AUDIT_INTERVAL_SECONDS", "60")
	t.Setenv("LOCK_TIMEOUT_MS", "500")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, ":memory:", cfg.DatabasePath)
	assert.Equal(t, time.Minute, cfg.AuditInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout())
}

func TestLoad_ZeroAuditIntervalDisablesSweep(t *testing.T) {
	t.Setenv("AUDIT_INTERVAL_SECONDS", "0")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.AuditInterval())
}

func TestLoad_NonPositiveLockTimeoutFallsBack(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT_MS", "-1")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout())
}
