package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, ":8888", cfg.Signaling.ListenAddr)
	assert.Equal(t, 64, cfg.Signaling.SendBuffer)
	assert.Equal(t, 2*time.Minute, cfg.Signaling.WaitTimeout)
	assert.Equal(t, 200, cfg.Signaling.HistoryLimit)
	assert.False(t, cfg.Monitoring.IsEnabled())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("KRISHIMITRA_SIGNALING_WAIT_TIMEOUT", "30s")
	t.Setenv("KRISHIMITRA_LOG_LEVEL", "debug")
	t.Setenv("KRISHIMITRA_MONITORING_METRICS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Signaling.WaitTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Monitoring.IsEnabled())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: trace
signaling:
  listen_addr: ":7000"
  wait_timeout: 45s
  history_limit: 20
monitoring:
  profiling_enabled: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Log.Level)
	assert.Equal(t, ":7000", cfg.Signaling.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Signaling.WaitTimeout)
	assert.Equal(t, 20, cfg.Signaling.HistoryLimit)
	assert.Equal(t, 7*time.Second, cfg.Signaling.PongWait)
	assert.True(t, cfg.Monitoring.ProfilingEnabled)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Log.Level = "loud"
	cfg.Signaling.PongWait = cfg.Signaling.PingInterval
	cfg.Signaling.WaitTimeout = -time.Second
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "pong_wait")
	assert.Contains(t, err.Error(), "wait_timeout")
}
