package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamloader/internal/fetch"
)

func TestTuningConfig_ToTuning_FillsZeroFieldsFromDefaults(t *testing.T) {
	defaults := fetch.DefaultTuning()

	tc := TuningConfig{MaxPrefetchRequests: 8}
	got := tc.ToTuning()

	assert.Equal(t, 8, got.MaxPrefetchRequests)
	assert.Equal(t, defaults.MinDownloadSize, got.MinDownloadSize)
	assert.Equal(t, defaults.PerReadPingFactor, got.PerReadPingFactor)
}

func TestTuningConfig_ToTuning_HonorsExplicitOverrides(t *testing.T) {
	tc := TuningConfig{
		MinDownloadSizeBytes: 4096,
		PerReadPingFactor:    0.0002,
	}
	got := tc.ToTuning()

	assert.EqualValues(t, 4096, got.MinDownloadSize)
	assert.Equal(t, 0.0002, got.PerReadPingFactor)
}

func TestDefault_HasUsableCacheAndSessionSettings(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.Cache.Dir)
	assert.Greater(t, cfg.Cache.MaxSizeBytes, int64(0))
	assert.Greater(t, cfg.Session.ChunkSizeBytes, int64(0))
}

func TestLoadConfig_MissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Cache.Dir, cfg.Cache.Dir)
}

func TestLoadConfig_ReadsOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
tuning:
  max_prefetch_requests: 7
cache:
  enabled: true
  dir: ` + dir + `
  max_size_bytes: 123456
session:
  chunk_size_bytes: 8192
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Tuning.MaxPrefetchRequests)
	assert.True(t, cfg.Cache.Enabled)
	assert.EqualValues(t, 123456, cfg.Cache.MaxSizeBytes)
	assert.EqualValues(t, 8192, cfg.Session.ChunkSizeBytes)
}

func TestManager_OnConfigChange_FiresOnReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  max_prefetch_requests: 4\n"), 0o644))

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 4, m.Current().Tuning.MaxPrefetchRequests)

	var got *Config
	m.OnConfigChange(func(oldConfig, newConfig *Config) { got = newConfig })

	next := Default()
	next.Tuning.MaxPrefetchRequests = 9
	m.applyReload(&next)

	require.NotNil(t, got)
	assert.Equal(t, 9, got.Tuning.MaxPrefetchRequests)
	assert.Equal(t, 9, m.Current().Tuning.MaxPrefetchRequests)
}
