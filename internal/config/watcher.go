package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"navwatch/internal/premium"
)

// Watcher keeps the latest valid configuration and reloads it when the file changes.
type Watcher struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
	logger  zerolog.Logger

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewWatcher loads the configuration once. Call Start to follow file changes.
func NewWatcher(path string) (*Watcher, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	w := &Watcher{v: v, logger: zerolog.Nop()}
	w.current.Store(cfg)
	return w, nil
}

// Start watches the config file. Without a config file it does nothing.
func (w *Watcher) Start(logger zerolog.Logger) {
	w.logger = logger.With().Str("component", "config").Logger()
	if w.v.ConfigFileUsed() == "" {
		return
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.v.WatchConfig()
}

func (w *Watcher) reload(name string) {
	cfg, err := decode(w.v)
	if err != nil {
		w.logger.Warn().Err(err).Str("file", name).Msg("ignoring invalid config change")
		return
	}
	w.current.Store(cfg)
	w.logger.Info().Str("file", name).
		Float64("premium_threshold", cfg.Thresholds.Premium).
		Float64("discount_threshold", cfg.Thresholds.Discount).
		Msg("configuration reloaded")

	w.mu.Lock()
	listeners := append([]func(*Config){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration. Treat it as read-only.
func (w *Watcher) Config() *Config {
	return w.current.Load()
}

// Thresholds returns the current thresholds; a cycle calls it once at start.
func (w *Watcher) Thresholds() premium.Thresholds {
	return w.current.Load().Thresholds.Snapshot()
}
