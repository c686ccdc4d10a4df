package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 1000, cfg.Poll.IntervalMs)
	assert.True(t, cfg.Web.Enabled)
	assert.Equal(t, "127.0.0.1:8423", cfg.Web.ListenAddr)
}

func TestLoadPartialFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[poll]
interval_ms = 2500

[web]
token = "secret"

[logs]
level = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.Poll.IntervalMs)
	assert.Equal(t, "secret", cfg.Web.Token)
	assert.Equal(t, "debug", cfg.Logs.Level)
	// Everything unset keeps its default.
	assert.Equal(t, 200, cfg.Poll.CaptureLines)
	assert.Equal(t, 24, cfg.Signals.MaxAgeHours)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadClampsFloors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[poll]
interval_ms = 5
capture_lines = -1
max_concurrent = 0

[activity]
memory_capacity = 0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Poll.IntervalMs)
	assert.Equal(t, 200, cfg.Poll.CaptureLines)
	assert.Equal(t, 8, cfg.Poll.MaxConcurrent)
	assert.Equal(t, 500, cfg.Activity.MemoryCapacity)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "config.toml")

	cfg := Default()
	cfg.Poll.IntervalMs = 3000
	cfg.Web.ReadOnly = true
	require.NoError(t, cfg.Save(path))

	// Atomic write leaves no tmp file behind.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
