package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Snapshot is one published version of the firewall configuration.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Firewall FirewallConfig
}

// Manager publishes firewall snapshots. Readers load the current pointer
// without locking; writers are serialised so subscribers see versions in order.
type Manager struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	version     uint64
	subscribers []func(*Snapshot)
	log         *zap.Logger
}

func NewManager(initial FirewallConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{log: log}
	m.publish(initial)
	return m
}

func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Update replaces the whole firewall configuration.
func (m *Manager) Update(cfg FirewallConfig) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishLocked(cfg)
}

// UpdateLayers replaces only the layer enable/order list.
func (m *Manager) UpdateLayers(layers []LayerSetting) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.current.Load().Firewall.Clone()
	next.Layers = layers
	return m.publishLocked(next)
}

// Subscribe registers fn to run after every publish, including once
// immediately with the current snapshot.
func (m *Manager) Subscribe(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
	fn(m.current.Load())
}

func (m *Manager) publish(cfg FirewallConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(cfg)
}

func (m *Manager) publishLocked(cfg FirewallConfig) *Snapshot {
	cfg = cfg.Clone()
	cfg.Normalize()
	m.version++
	snap := &Snapshot{Version: m.version, LoadedAt: time.Now().UTC(), Firewall: cfg}
	m.current.Store(snap)
	for _, fn := range m.subscribers {
		fn(snap)
	}
	m.log.Info("firewall configuration published",
		zap.Uint64("version", snap.Version),
		zap.Int("layers", len(cfg.Layers)))
	return snap
}

// LoadFirewall reads a firewall YAML file. A missing file yields the defaults.
func LoadFirewall(path string) (FirewallConfig, error) {
	if path == "" {
		return DefaultFirewallConfig(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultFirewallConfig(), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	return readFirewall(v)
}

func readFirewall(v *viper.Viper) (FirewallConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		return FirewallConfig{}, fmt.Errorf("read firewall config: %w", err)
	}
	var cfg FirewallConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return FirewallConfig{}, fmt.Errorf("decode firewall config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Watch reloads path into m whenever the file changes. A file that fails to
// parse leaves the previous snapshot in place.
func Watch(path string, m *Manager) {
	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := readFirewall(v)
		if err != nil {
			m.log.Error("firewall config reload failed, keeping previous version",
				zap.String("file", e.Name), zap.Error(err))
			return
		}
		m.Update(cfg)
	})
	v.WatchConfig()
}
