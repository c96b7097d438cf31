package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the live Config and reloads it when the file changes.
// Readers always see a complete snapshot via an atomic pointer swap; a
// failed reload keeps the previous snapshot in place.
type Manager struct {
	config   atomic.Pointer[Config]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewManager loads the file once and returns a manager holding it.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)
	return m, nil
}

// Get returns the current snapshot. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// OnChange registers a callback invoked after each successful reload.
// Register before Watch; the callback list is not guarded.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the configuration file. Rapid write bursts (editors
// often write several times) are debounced into one reload.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, m.reload)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	// Editors that replace the file atomically break the watch on the old
	// inode; re-add before reading so the next change is still observed.
	if m.watcher != nil {
		_ = m.watcher.Add(m.path)
	}

	cfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("config reload failed, keeping current snapshot", "error", err)
		return
	}

	m.config.Store(cfg)
	m.logger.Info("configuration reloaded", "tiers", len(cfg.Router.Tiers))

	for _, fn := range m.onChange {
		fn(cfg)
	}
}

// Close stops the watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
