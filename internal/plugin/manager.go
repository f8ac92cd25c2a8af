package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/sharedctx"
	"go.uber.org/zap"
)

// Manager loads, reloads and unloads plugins by name, wiring the routes
// each one registers into a RouteRegistrar and tearing them back out on
// unload. Load is idempotent by name: re-loading an already-loaded plugin
// is a no-op that logs a warning rather than double-registering routes.
type Manager struct {
	mu     sync.Mutex
	dir    string
	open   Opener
	router RouteRegistrar
	deps   sharedctx.Deps
	loaded map[string]*loadedPlugin
}

// NewManager builds a Manager that discovers plugins under dir, opens them
// with open (production code should pass OpenFile), wires routes into
// router, and initializes each plugin with deps.
func NewManager(dir string, open Opener, router RouteRegistrar, deps sharedctx.Deps) *Manager {
	return &Manager{
		dir:    dir,
		open:   open,
		router: router,
		deps:   deps,
		loaded: make(map[string]*loadedPlugin),
	}
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.dir, name+".so")
}

// Load opens the .so for name, initializes it, registers its routes, and
// tracks the result for later Unload/Reload. A plugin already loaded under
// this name is left untouched.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(name)
}

func (m *Manager) loadLocked(name string) error {
	if _, ok := m.loaded[name]; ok {
		logging.Warn("plugin already loaded, skipping", zap.String("plugin", name))
		return nil
	}

	path := m.pathFor(name)
	impl, err := m.open(path)
	if err != nil {
		return fmt.Errorf("plugin: load %s: %w", name, err)
	}

	if err := impl.Initialize(m.deps); err != nil {
		return fmt.Errorf("plugin: initialize %s: %w", name, err)
	}

	specs, err := impl.RegisterRoutes(m.deps.App)
	if err != nil {
		_ = impl.Cleanup()
		return fmt.Errorf("plugin: register routes for %s: %w", name, err)
	}

	entry := &loadedPlugin{impl: impl, path: path, routes: make([]routeKey, 0, len(specs))}
	for _, spec := range specs {
		m.router.Handle(spec.Method, spec.Path, spec.Descriptor, spec.Handler)
		entry.routes = append(entry.routes, routeKey{method: spec.Method, path: spec.Path})
	}

	m.loaded[name] = entry
	logging.Info("plugin loaded", zap.String("plugin", entry.describe()), zap.Int("routes", len(entry.routes)))
	return nil
}

// Unload runs the plugin's Cleanup, removes every route it registered, and
// drops it from the registry. Unloading a name that isn't loaded is a
// no-op.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(name)
}

func (m *Manager) unloadLocked(name string) error {
	entry, ok := m.loaded[name]
	if !ok {
		logging.Warn("plugin not loaded, nothing to unload", zap.String("plugin", name))
		return nil
	}

	for _, rk := range entry.routes {
		m.router.Remove(rk.method, rk.path)
	}

	err := entry.impl.Cleanup()
	delete(m.loaded, name)
	if err != nil {
		return fmt.Errorf("plugin: cleanup %s: %w", name, err)
	}
	logging.Info("plugin unloaded", zap.String("plugin", name))
	return nil
}

// Reload unloads then re-loads the named plugin.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unloadLocked(name); err != nil {
		return err
	}
	return m.loadLocked(name)
}

// ReloadAll reloads every currently loaded plugin, collecting every
// error encountered rather than stopping at the first.
func (m *Manager) ReloadAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		m.mu.Lock()
		err := func() error {
			if uerr := m.unloadLocked(name); uerr != nil {
				return uerr
			}
			return m.loadLocked(name)
		}()
		m.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("plugin: reload all: %d of %d failed: %w", len(errs), len(names), errs[0])
	}
	return nil
}

// Discover scans the plugin directory for .so artifacts and returns the
// plugin names found (file name with the .so suffix stripped), regardless
// of whether they're currently loaded.
func (m *Manager) Discover() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: discover %s: %w", m.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".so" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".so")])
	}
	return names, nil
}

// LoadAll loads every plugin Discover finds, continuing past individual
// failures and returning the first error encountered (if any) after all
// attempts complete.
func (m *Manager) LoadAll() error {
	names, err := m.Discover()
	if err != nil {
		return err
	}
	var firstErr error
	for _, name := range names {
		if err := m.Load(name); err != nil {
			logging.Error("plugin load failed during LoadAll", zap.String("plugin", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// List returns the names of currently loaded plugins.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	return names
}

// Describe returns the name@version string for a loaded plugin.
func (m *Manager) Describe(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.loaded[name]
	if !ok {
		return "", false
	}
	return entry.describe(), true
}

// UnloadAll unloads every currently loaded plugin, used at shutdown.
func (m *Manager) UnloadAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := m.Unload(name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("plugin: unload all: %d failed: %w", len(errs), errs[0])
	}
	return nil
}
