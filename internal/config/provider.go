package config

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Provider serves the current configuration snapshot and swaps it when the file changes.
// Readers call Current once per tick and keep that pointer for the whole tick.
type Provider struct {
	current atomic.Pointer[Config]
	paused  atomic.Bool
	v       *viper.Viper
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewProvider loads the file at path and returns a provider serving it.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	cfg, v, err := load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{v: v, logger: logger.With("component", "config")}
	p.current.Store(cfg)
	return p, nil
}

// NewStaticProvider wraps a fixed configuration; Reload and Watch are no-ops.
func NewStaticProvider(cfg *Config) *Provider {
	p := &Provider{logger: slog.Default().With("component", "config")}
	p.current.Store(cfg)
	return p
}

// Current returns the active configuration snapshot. Callers must not mutate it.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Update replaces the snapshot directly and notifies listeners.
func (p *Provider) Update(cfg *Config) {
	p.current.Store(cfg)
	p.notify(cfg)
}

// Running combines the configured run flag with the operator pause override.
func (p *Provider) Running() bool {
	return p.Current().Orchestrator.Running && !p.paused.Load()
}

// SetPaused sets the operator override. It is not persisted to the file.
func (p *Provider) SetPaused(paused bool) {
	p.paused.Store(paused)
	p.logger.Info("Operator pause override changed", "paused", paused)
}

// Paused reports the operator override.
func (p *Provider) Paused() bool {
	return p.paused.Load()
}

// OnChange registers fn to run after every successful reload.
func (p *Provider) OnChange(fn func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Reload re-reads the file. An invalid file is rejected and the previous snapshot stays active.
func (p *Provider) Reload() error {
	if p.v == nil {
		return nil
	}
	if err := p.v.ReadInConfig(); err != nil {
		p.logger.Error("Config reload failed, keeping previous config", "error", err)
		return err
	}
	cfg, err := decode(p.v)
	if err != nil {
		p.logger.Error("Reloaded config is invalid, keeping previous config", "error", err)
		return err
	}
	p.Update(cfg)
	p.logger.Info("Configuration reloaded",
		"running", cfg.Orchestrator.Running,
		"daily_limit", cfg.Rate.DailyLimit,
		"manual_approval", cfg.Orchestrator.ManualApproval)
	return nil
}

// Watch starts watching the config file. The watcher lives for the rest of the process.
func (p *Provider) Watch() {
	if p.v == nil {
		return
	}
	p.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		p.logger.Debug("Config file changed", "file", e.Name, "op", e.Op.String())
		_ = p.Reload()
	})
	p.v.WatchConfig()
}

func (p *Provider) notify(cfg *Config) {
	p.mu.Lock()
	listeners := append([]func(*Config){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
