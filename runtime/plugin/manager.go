// Package plugin manages externally provided node types: discovery of
// plugin directories, hosting plugin binaries, the remote plugin index,
// and installation from git repositories.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/weftworks/weft/runtime/config"
	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/module"
	"github.com/weftworks/weft/runtime/registry"
	"github.com/weftworks/weft/runtime/telemetry"
)

// Manager composes the module lifecycle manager with plugin concerns. It
// owns the plugin directories, the remote index, the repositories file,
// and installation.
type Manager struct {
	modules        *module.Manager
	reg            *registry.Registry
	store          *config.Store
	index          *Index
	bus            hooks.Bus
	logger         telemetry.Logger
	installer      module.PackageInstaller
	cloner         Cloner
	launch         Launcher
	pluginDirs     []string
	customNodesDir string

	mu      sync.Mutex
	plugins map[string]*pluginRecord
}

type pluginRecord struct {
	man *Manifest
	dir string
}

// Option configures a Manager.
type Option func(*Manager)

// WithPluginDir adds a directory scanned for plugins. The first added
// directory receives new installs.
func WithPluginDir(dir string) Option {
	return func(m *Manager) { m.pluginDirs = append(m.pluginDirs, dir) }
}

// WithCustomNodesDir sets the install target for engine extensions.
func WithCustomNodesDir(dir string) Option {
	return func(m *Manager) { m.customNodesDir = dir }
}

// WithIndex substitutes the remote index.
func WithIndex(ix *Index) Option {
	return func(m *Manager) { m.index = ix }
}

// WithBus sets the event bus install notifications publish to.
func WithBus(bus hooks.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithPackageInstaller sets the installer run for a freshly cloned
// plugin's declared packages.
func WithPackageInstaller(pi module.PackageInstaller) Option {
	return func(m *Manager) { m.installer = pi }
}

// WithCloner substitutes the repository cloner.
func WithCloner(c Cloner) Option {
	return func(m *Manager) { m.cloner = c }
}

// WithLauncher substitutes the provider launcher.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launch = l }
}

// NewManager builds a plugin manager over the given module manager and
// node registry. The config store supplies the repositories file and proxy
// settings and may be nil.
func NewManager(modules *module.Manager, reg *registry.Registry, store *config.Store, opts ...Option) *Manager {
	m := &Manager{
		modules: modules,
		reg:     reg,
		store:   store,
		logger:  telemetry.NewNoopLogger(),
		launch:  launchProcess,
		plugins: make(map[string]*pluginRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.index == nil {
		m.index = NewIndex(store, WithIndexLogger(m.logger))
	}
	if m.cloner == nil {
		m.cloner = &gitCloner{proxy: loadProxySettings(store)}
	}
	return m
}

// Index exposes the remote index.
func (m *Manager) Index() *Index { return m.index }

// Modules exposes the underlying lifecycle manager.
func (m *Manager) Modules() *module.Manager { return m.modules }

// AddPluginDir appends a directory to the scan list.
func (m *Manager) AddPluginDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.pluginDirs {
		if d == dir {
			return
		}
	}
	m.pluginDirs = append(m.pluginDirs, dir)
}

// Discover scans every plugin directory for subdirectories carrying a
// manifest and registers a loader per plugin id. Invalid manifests are
// logged and skipped; the scan never aborts. The returned ids are sorted.
func (m *Manager) Discover(ctx context.Context) []string {
	m.mu.Lock()
	dirs := append([]string(nil), m.pluginDirs...)
	if m.customNodesDir != "" {
		dirs = append(dirs, m.customNodesDir)
	}
	m.mu.Unlock()

	var ids []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn(ctx, "plugin directory unreadable", "dir", dir, "err", err)
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			if _, ok := FindManifest(pluginDir); !ok {
				continue
			}
			man, err := LoadManifest(pluginDir)
			if err != nil {
				m.logger.Warn(ctx, "skipping plugin", "dir", pluginDir, "err", err)
				continue
			}
			m.register(man, pluginDir)
			m.logger.Info(ctx, "discovered plugin",
				"plugin", man.ID, "version", man.Version, "dir", pluginDir)
			ids = append(ids, man.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) register(man *Manifest, dir string) {
	h := &hosted{man: man, dir: dir, reg: m.reg, launch: m.launch, logger: m.logger}
	m.modules.Register(man.ID, func(context.Context) (module.Module, error) {
		return h, nil
	})
	m.mu.Lock()
	m.plugins[man.ID] = &pluginRecord{man: man, dir: dir}
	m.mu.Unlock()
}

// Plugins lists the manifests of every discovered plugin, sorted by id.
func (m *Manager) Plugins() []Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Manifest, 0, len(m.plugins))
	for _, rec := range m.plugins {
		out = append(out, *rec.man)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PluginDir returns the install directory of a discovered plugin.
func (m *Manager) PluginDir(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.plugins[id]
	if !ok {
		return "", false
	}
	return rec.dir, true
}

// Activate loads and activates a discovered plugin.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.plugins[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	return m.modules.Activate(ctx, id)
}

// Reload deactivates a plugin, re-reads its manifest, and activates it
// again. Used after an in-place upgrade of the plugin directory.
func (m *Manager) Reload(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.plugins[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	if err := m.modules.Deactivate(ctx, id); err != nil {
		m.logger.Warn(ctx, "deactivating plugin for reload", "plugin", id, "err", err)
	}
	m.modules.Unregister(id)
	man, err := LoadManifest(rec.dir)
	if err != nil {
		return err
	}
	m.register(man, rec.dir)
	return m.modules.Activate(ctx, man.ID)
}

// Uninstall deactivates and unregisters a plugin and removes its
// directory. An unknown id is a failure, not a crash.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.plugins[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	if err := m.modules.Deactivate(ctx, id); err != nil {
		m.logger.Warn(ctx, "deactivating plugin for uninstall", "plugin", id, "err", err)
	}
	m.modules.Unregister(id)
	m.reg.RemoveProvenance(registry.PluginProvenance(id))
	if err := os.RemoveAll(rec.dir); err != nil {
		return fmt.Errorf("remove plugin dir %s: %w", rec.dir, err)
	}
	m.mu.Lock()
	delete(m.plugins, id)
	m.mu.Unlock()
	m.logger.Info(ctx, "uninstalled plugin", "plugin", id)
	return nil
}

// AddRepository records a custom index repository URL.
func (m *Manager) AddRepository(url string) error {
	return m.updateRepositories(func(r *config.Repositories) error {
		if r.HasCustom(url) {
			return fmt.Errorf("repository already added: %s", url)
		}
		r.Custom = append(r.Custom, url)
		return nil
	})
}

// RemoveRepository drops a custom index repository URL.
func (m *Manager) RemoveRepository(url string) error {
	err := m.updateRepositories(func(r *config.Repositories) error {
		if !r.HasCustom(url) {
			return fmt.Errorf("repository not found: %s", url)
		}
		r.Custom = remove(r.Custom, url)
		return nil
	})
	if err == nil {
		m.index.Invalidate(url)
	}
	return err
}

// DisableRepository excludes a URL from index fetches and drops its cached
// entries.
func (m *Manager) DisableRepository(url string) error {
	err := m.updateRepositories(func(r *config.Repositories) error {
		if r.IsDisabled(url) {
			return fmt.Errorf("repository already disabled: %s", url)
		}
		r.Custom = remove(r.Custom, url)
		r.Disabled = append(r.Disabled, url)
		return nil
	})
	if err == nil {
		m.index.Invalidate(url)
	}
	return err
}

// EnableRepository reverses DisableRepository, restoring the URL to the
// custom list.
func (m *Manager) EnableRepository(url string) error {
	err := m.updateRepositories(func(r *config.Repositories) error {
		if !r.IsDisabled(url) {
			return fmt.Errorf("repository not disabled: %s", url)
		}
		r.Disabled = remove(r.Disabled, url)
		if !r.HasCustom(url) {
			r.Custom = append(r.Custom, url)
		}
		return nil
	})
	if err == nil {
		m.index.Invalidate(url)
	}
	return err
}

// Repositories returns the current repositories file contents.
func (m *Manager) Repositories() (config.Repositories, error) {
	if m.store == nil {
		return config.Repositories{}, nil
	}
	return m.store.LoadRepositories()
}

func (m *Manager) updateRepositories(mutate func(*config.Repositories) error) error {
	if m.store == nil {
		return fmt.Errorf("no config store; repositories are not persisted")
	}
	repos, err := m.store.LoadRepositories()
	if err != nil {
		return err
	}
	if err := mutate(&repos); err != nil {
		return err
	}
	return m.store.SaveRepositories(repos)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
