package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Zero(t, cfg.Server.WriteTimeoutDuration())
	assert.Equal(t, "almalinux:9", cfg.Environment.Image)
	assert.Equal(t, "rhcsa-task-", cfg.Environment.NamePrefix)
	assert.Equal(t, 10*time.Second, cfg.Probe.Timeout())
	assert.Equal(t, "/bin/bash", cfg.Terminal.Shell)
	assert.Equal(t, 4096, cfg.Terminal.ReadBufferSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Terminal.PollInterval())
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadWithPath_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: 8088\nenvironment:\n  image: rockylinux:9\nprobe:\n  timeoutSeconds: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("EXAMLAB_LOGGING_LEVEL", "debug")

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8088", cfg.Server.Addr())
	assert.Equal(t, "rockylinux:9", cfg.Environment.Image)
	assert.Equal(t, 3*time.Second, cfg.Probe.Timeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithPath_ValidationErrorsJoined(t *testing.T) {
	dir := t.TempDir()
	yaml := "server:\n  port: 0\nprobe:\n  timeoutSeconds: 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be between 1 and 65535")
	assert.Contains(t, err.Error(), "; probe.timeoutSeconds must be positive")
}

func TestLoadWithPath_WriteTimeoutMustCoverLifecycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  writeTimeout: 30\n"), 0o600))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.writeTimeout must be 0 or at least 720 seconds")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  writeTimeout: 900\n"), 0o600))
	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeoutDuration())
}
