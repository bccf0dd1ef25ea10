package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)
	assert.Equal(t, time.Second, cfg.Upstream.RetryBaseWait)
	assert.Equal(t, 10*time.Second, cfg.Upstream.RetryMaxWait)
	assert.Equal(t, 300*time.Second, cfg.Stream.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.Stream.SweepInterval)
	assert.Equal(t, 20, cfg.RateLimit.Chat.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Chat.Window)
	assert.Equal(t, "sqlite", cfg.Database.Type)
}

func TestLoadConfig_EnvResolution(t *testing.T) {
	t.Setenv("HELIX_TEST_UPSTREAM", "http://inference.internal:8787")

	path := writeTempConfig(t, `
upstream:
  base_url: ${HELIX_TEST_UPSTREAM}
  model: ${HELIX_TEST_MODEL:gpt-oss-20b}
redis:
  addr: ${HELIX_TEST_REDIS:localhost:6379}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://inference.internal:8787", cfg.Upstream.BaseURL)
	assert.Equal(t, "gpt-oss-20b", cfg.Upstream.Model)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "helix", cfg.Metrics.Namespace)
	assert.Equal(t, 100, cfg.RateLimit.API.Limit)
}
