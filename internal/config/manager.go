package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/viper"
)

// ConfigChangeHandler is notified with the old and new Config whenever
// the on-disk file changes. Mirrors the teacher's
// config.Manager.OnConfigChange callback shape (internal/pool/config.go).
type ConfigChangeHandler func(oldConfig, newConfig *Config)

// Manager owns the active Config and reloads it on file changes,
// fanning the change out to every registered handler.
type Manager struct {
	mu       sync.RWMutex
	current  *Config
	v        *viper.Viper
	handlers []ConfigChangeHandler
	log      *slog.Logger
}

// NewManager loads path and starts watching it for changes.
func NewManager(path string, log *slog.Logger) (*Manager, error) {
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
	} else if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	m := &Manager{current: &cfg, v: v, log: log.With("component", "config")}

	watch(v, m.applyReload)

	return m, nil
}

// Current returns the active Config. Callers must not mutate the
// returned value.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnConfigChange registers a handler invoked after every successful
// reload, with the config as it was before and after the change.
func (m *Manager) OnConfigChange(h ConfigChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) applyReload(newCfg *Config) {
	m.mu.Lock()
	old := m.current
	m.current = newCfg
	handlers := append([]ConfigChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	m.log.Info("config: reloaded")
	for _, h := range handlers {
		h(old, newCfg)
	}
}
