package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/logging"
)

// Watcher watches a config file for changes and triggers a Refresh-style
// reload, debounced to absorb an editor's write+rename burst.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*ConfigSet)
	mu         sync.RWMutex
	debounce   time.Duration
	current    *ConfigSet
}

// NewWatcher creates a configuration watcher, performing an initial load.
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}

	cs, err := w.loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.current = cs

	return w, nil
}

// OnChange registers a callback invoked with the merged ConfigSet after
// each successful reload.
func (w *Watcher) OnChange(callback func(*ConfigSet)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching the directory containing the config file.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		}
	}
}

// reload performs a merge-preserving Refresh against the currently held
// ConfigSet. The admin plane's configReload (gateway.Server.Reload) does
// not go through Refresh.
func (w *Watcher) reload() {
	incoming, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("failed to reload config", zap.Error(err))
		return
	}

	w.mu.Lock()
	merged := Refresh(w.current, incoming)
	w.current = merged
	callbacks := make([]func(*ConfigSet), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))
	for _, cb := range callbacks {
		go cb(merged)
	}
}

// Current returns the most recently loaded ConfigSet.
func (w *Watcher) Current() *ConfigSet {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// SetDebounce overrides the default debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}
