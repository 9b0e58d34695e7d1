package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ManagerConfig is the full cache configuration plus its maintenance
// cadence.
type ManagerConfig struct {
	Enabled         bool
	Dir             string
	MaxSizeBytes    int64
	ExpiryDuration  time.Duration
	CleanupInterval time.Duration
	CatalogInterval time.Duration
}

// DefaultManagerConfig returns sensible defaults for the demo harness.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Enabled:         false,
		Dir:             "/tmp/streamloader-cache",
		MaxSizeBytes:    10 * 1024 * 1024 * 1024,
		ExpiryDuration:  24 * time.Hour,
		CleanupInterval: 5 * time.Minute,
		CatalogInterval: time.Minute,
	}
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if cfg.Dir == "" {
		cfg.Dir = d.Dir
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = d.MaxSizeBytes
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = d.ExpiryDuration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	if cfg.CatalogInterval <= 0 {
		cfg.CatalogInterval = d.CatalogInterval
	}
	return cfg
}

// StatsSnapshot is a point-in-time view of cache statistics.
type StatsSnapshot struct {
	TotalSize int64
	ItemCount int
}

// Manager owns a DiskCache and runs its background cleanup/eviction and
// catalog-flush loops, mirroring the teacher's segcache Manager.
type Manager struct {
	cache  *DiskCache
	config ManagerConfig
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushes atomic.Int64
}

// NewManager creates a Manager and loads any existing on-disk catalog.
func NewManager(cfg ManagerConfig, fsCfg Config, log *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	fsCfg.Dir = cfg.Dir
	fsCfg.MaxSizeBytes = cfg.MaxSizeBytes
	fsCfg.ExpiryDuration = cfg.ExpiryDuration

	dc, err := NewDiskCache(fsCfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{cache: dc, config: cfg, log: log.With("component", "cache-manager"), ctx: ctx, cancel: cancel}, nil
}

// Cache returns the underlying DiskCache for wiring into a Session.
func (m *Manager) Cache() *DiskCache { return m.cache }

// Start launches the background maintenance goroutines. A no-op if the
// manager is not Enabled.
func (m *Manager) Start() {
	if !m.config.Enabled {
		return
	}
	m.wg.Add(2)
	go m.cleanupLoop()
	go m.catalogFlushLoop()
}

// Stop shuts down the background goroutines and saves the catalog one
// final time.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()

	if err := m.cache.SaveCatalog(); err != nil {
		m.log.Warn("cache: final catalog save failed", "error", err)
	}
}

// GetStats returns a point-in-time snapshot of cache statistics.
func (m *Manager) GetStats() StatsSnapshot {
	return StatsSnapshot{TotalSize: m.cache.TotalSize(), ItemCount: m.cache.ItemCount()}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cache.Cleanup()
			m.cache.Evict()
		}
	}
}

func (m *Manager) catalogFlushLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CatalogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.cache.SaveCatalog(); err != nil {
				m.log.Warn("cache: periodic catalog save failed", "error", err)
				continue
			}
			m.flushes.Add(1)
		}
	}
}
