// Package config loads and hot-reloads the demo harness's configuration:
// tuning knobs for the fetch/audiofile core plus the on-disk cache and
// session settings around it. The loader fits the teacher's own
// config.LoadConfig(path) call site (cmd/altmount/cmd/passwd.go) even
// though the teacher's own config.go wasn't part of this retrieval
// pack; the viper + fsnotify stack is pinned in its go.mod regardless.
package config

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/javi11/streamloader/internal/fetch"
)

// TuningConfig mirrors fetch.Tuning with YAML/env-friendly field names;
// ToTuning converts it, falling back to fetch.DefaultTuning() for any
// zero-valued field.
type TuningConfig struct {
	MinDownloadSizeBytes    int64   `mapstructure:"min_download_size_bytes"`
	InitialDownloadSizeBytes int64  `mapstructure:"initial_download_size_bytes"`
	InitialPingEstimateMs   int64   `mapstructure:"initial_ping_estimate_ms"`
	MaxAssumedPingMs        int64   `mapstructure:"max_assumed_ping_ms"`

	ReadAheadBeforePlaybackSeconds    float64 `mapstructure:"read_ahead_before_playback_seconds"`
	ReadAheadBeforePlaybackRoundtrips float64 `mapstructure:"read_ahead_before_playback_roundtrips"`
	ReadAheadDuringPlaybackSeconds    float64 `mapstructure:"read_ahead_during_playback_seconds"`
	ReadAheadDuringPlaybackRoundtrips float64 `mapstructure:"read_ahead_during_playback_roundtrips"`

	PrefetchThresholdFactor     float64 `mapstructure:"prefetch_threshold_factor"`
	FastPrefetchThresholdFactor float64 `mapstructure:"fast_prefetch_threshold_factor"`
	MaxPrefetchRequests         int     `mapstructure:"max_prefetch_requests"`
	MinRateFloorBytes           int64   `mapstructure:"min_rate_floor_bytes"`
	PerReadPingFactor           float64 `mapstructure:"per_read_ping_factor"`
}

// ToTuning builds a fetch.Tuning from the configured values, filling any
// field left at its zero value from fetch.DefaultTuning().
func (t TuningConfig) ToTuning() fetch.Tuning {
	d := fetch.DefaultTuning()
	merge := func(cur, def int64) int64 {
		if cur == 0 {
			return def
		}
		return cur
	}
	mergeF := func(cur, def float64) float64 {
		if cur == 0 {
			return def
		}
		return cur
	}

	return fetch.Tuning{
		MinDownloadSize:                   merge(t.MinDownloadSizeBytes, d.MinDownloadSize),
		InitialDownloadSize:               merge(t.InitialDownloadSizeBytes, d.InitialDownloadSize),
		InitialPingEstimateMs:             merge(t.InitialPingEstimateMs, d.InitialPingEstimateMs),
		MaxAssumedPingMs:                  merge(t.MaxAssumedPingMs, d.MaxAssumedPingMs),
		ReadAheadBeforePlaybackSeconds:    mergeF(t.ReadAheadBeforePlaybackSeconds, d.ReadAheadBeforePlaybackSeconds),
		ReadAheadBeforePlaybackRoundtrips: mergeF(t.ReadAheadBeforePlaybackRoundtrips, d.ReadAheadBeforePlaybackRoundtrips),
		ReadAheadDuringPlaybackSeconds:    mergeF(t.ReadAheadDuringPlaybackSeconds, d.ReadAheadDuringPlaybackSeconds),
		ReadAheadDuringPlaybackRoundtrips: mergeF(t.ReadAheadDuringPlaybackRoundtrips, d.ReadAheadDuringPlaybackRoundtrips),
		PrefetchThresholdFactor:           mergeF(t.PrefetchThresholdFactor, d.PrefetchThresholdFactor),
		FastPrefetchThresholdFactor:       mergeF(t.FastPrefetchThresholdFactor, d.FastPrefetchThresholdFactor),
		MaxPrefetchRequests: func() int {
			if t.MaxPrefetchRequests == 0 {
				return d.MaxPrefetchRequests
			}
			return t.MaxPrefetchRequests
		}(),
		MinRateFloor:      merge(t.MinRateFloorBytes, d.MinRateFloor),
		PerReadPingFactor: mergeF(t.PerReadPingFactor, d.PerReadPingFactor),
	}
}

// CacheConfig configures the demo harness's on-disk audio cache.
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Dir             string        `mapstructure:"dir"`
	MaxSizeBytes    int64         `mapstructure:"max_size_bytes"`
	ExpiryDuration  time.Duration `mapstructure:"expiry_duration"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CatalogInterval time.Duration `mapstructure:"catalog_interval"`
}

// SessionConfig configures the demo harness's fake/real Session.
type SessionConfig struct {
	ChunkSizeBytes int64         `mapstructure:"chunk_size_bytes"`
	Latency        time.Duration `mapstructure:"latency"`
	RateBytesPerSecond int64     `mapstructure:"rate_bytes_per_second"`
}

// Config is the demo harness's top-level configuration.
type Config struct {
	Tuning  TuningConfig  `mapstructure:"tuning"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Session SessionConfig `mapstructure:"session"`
}

// Default returns a Config whose zero-valued fields all resolve to the
// library's built-in defaults (fetch.DefaultTuning, a disabled cache).
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Dir:             "/tmp/streamloader-cache",
			MaxSizeBytes:    10 * 1024 * 1024 * 1024,
			ExpiryDuration:  24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
			CatalogInterval: time.Minute,
		},
		Session: SessionConfig{ChunkSizeBytes: 16 * 1024},
	}
}

// LoadConfig reads configuration from path (YAML/JSON/TOML, by
// extension) layered over Default(), matching the teacher's
// config.LoadConfig(path) call convention.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: default unmarshal: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		return &cfg, nil
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	return &cfg, nil
}

// watch arranges for onChange to fire (with the freshly reloaded Config)
// whenever the underlying file changes on disk.
func watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg := Default()
		if err := v.Unmarshal(&cfg); err == nil {
			onChange(&cfg)
		}
	})
	v.WatchConfig()
}
