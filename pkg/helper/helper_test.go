package helper

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCfgPath_Absolute(t *testing.T) {
	assert.Equal(t, "/tmp/helix.yaml", GetCfgPath("/tmp/helix.yaml"))
}

func TestGetCfgPath_CurrentDir(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "helix.yaml"), []byte("server:\n"), 0644))
	got := GetCfgPath("helix.yaml")
	assert.True(t, strings.HasSuffix(got, "helix.yaml"))
	assert.True(t, filepath.IsAbs(got))
}

func TestGetCfgPath_ConfigsDir(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "helix.yaml"), []byte("server:\n"), 0644))
	got := GetCfgPath("helix.yaml")
	assert.Contains(t, got, "configs")
}

func TestGetCfgPath_Fallback(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.Equal(t, "/etc/helix/helix.yaml", GetCfgPath("helix.yaml"))
}

func TestGetPIDPath_Absolute(t *testing.T) {
	assert.Equal(t, "/tmp/helix.pid", GetPIDPath("/tmp/helix.pid"))
}

func TestGetPIDPath_Fallback(t *testing.T) {
	assert.Equal(t, "/var/run/helix.pid", GetPIDPath(""))
}

func TestWriteAndRemovePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "helix.pid")
	require.NoError(t, WritePID(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePID(path))
	require.NoError(t, RemovePID(path), "removing twice is fine")
}
