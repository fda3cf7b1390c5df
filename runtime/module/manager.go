package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/telemetry"
)

// Manager defaults. The load timeout bounds both loaders and activate
// callables; it is enforced by the manager, never by the module.
const (
	DefaultLoadTimeout = 30 * time.Second
	DefaultRetryDelay  = 2 * time.Second
	DefaultMaxRetries  = 3
)

type (
	// Option configures a Manager.
	Option func(*Manager)

	// Manager owns one record per module id and serializes its state
	// transitions. A Failed module never crashes the manager; callers of
	// API on a non-Activated module receive nil and a log warning.
	Manager struct {
		loadTimeout time.Duration
		retryDelay  time.Duration
		maxRetries  int
		installer   PackageInstaller
		logger      telemetry.Logger
		bus         hooks.Bus

		mu      sync.Mutex
		records map[string]*record
		loaders map[string]LoaderFunc
	}

	// record tracks one module's state. changed is closed and replaced on
	// every transition so waiters can block until Loading or Activating
	// resolves.
	record struct {
		id       string
		module   Module
		state    State
		err      error
		attempts int
		changed  chan struct{}
	}
)

// WithLoadTimeout overrides the loader/activation timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.loadTimeout = d
		}
	}
}

// WithRetryDelay overrides the delay between failed load attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// WithMaxRetries overrides the load attempt bound.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetries = n
		}
	}
}

// WithPackageInstaller wires the installer used for modules' declared
// external package dependencies. Without one, declared packages are assumed
// present.
func WithPackageInstaller(pi PackageInstaller) Option {
	return func(m *Manager) { m.installer = pi }
}

// WithLogger sets the manager logger (default noop).
func WithLogger(logger telemetry.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithBus publishes module state transitions to the given bus.
func WithBus(bus hooks.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// NewManager builds a module lifecycle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		loadTimeout: DefaultLoadTimeout,
		retryDelay:  DefaultRetryDelay,
		maxRetries:  DefaultMaxRetries,
		logger:      telemetry.NewNoopLogger(),
		records:     make(map[string]*record),
		loaders:     make(map[string]LoaderFunc),
	}
	for _, o := range opts {
		if o != nil {
			o(m)
		}
	}
	return m
}

// Register records a loader for the module id. Loading is deferred until
// Load or a dependent's activation.
func (m *Manager) Register(id string, loader LoaderFunc) {
	m.mu.Lock()
	m.loaders[id] = loader
	m.mu.Unlock()
	m.logger.Info(context.Background(), "module loader registered", "module_id", id)
}

// RegisterModule records an already-instantiated module as Loaded.
func (m *Manager) RegisterModule(ctx context.Context, mod Module) error {
	meta := mod.Metadata()
	if err := ValidateMetadata(meta); err != nil {
		return fmt.Errorf("module metadata: %w", err)
	}
	m.mu.Lock()
	rec := m.recordLocked(meta.ID)
	rec.module = mod
	from := rec.state
	rec.state = StateLoaded
	rec.err = nil
	m.signalLocked(rec)
	m.mu.Unlock()
	m.announce(ctx, meta.ID, from, StateLoaded)
	return nil
}

// Load brings the module to Loaded. It is idempotent while another caller is
// already Loading: late arrivals wait on the record's state-change signal
// until Loaded or Failed. Each attempt is bounded by the load timeout; on
// failure the manager waits the retry delay and tries again, up to the
// attempt bound.
func (m *Manager) Load(ctx context.Context, id string) (Module, error) {
	for {
		m.mu.Lock()
		rec := m.recordLocked(id)
		switch rec.state {
		case StateLoaded, StateActivating, StateActivated:
			mod := rec.module
			m.mu.Unlock()
			return mod, nil
		case StateLoading:
			ch := rec.changed
			m.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		loader, ok := m.loaders[id]
		if !ok {
			m.mu.Unlock()
			return nil, &LoadFailureError{ID: id, Err: ErrUnknownModule}
		}
		if rec.attempts >= m.maxRetries {
			lastErr := rec.err
			m.mu.Unlock()
			if lastErr == nil {
				lastErr = errors.New("no further attempts")
			}
			return nil, &LoadFailureError{ID: id, Err: fmt.Errorf("gave up after %d attempts: %w", m.maxRetries, lastErr)}
		}
		rec.attempts++
		attempt := rec.attempts
		from := rec.state
		rec.state = StateLoading
		m.signalLocked(rec)
		m.mu.Unlock()
		m.announce(ctx, id, from, StateLoading)

		mod, err := m.loadBounded(ctx, id, loader)
		if err == nil {
			if verr := ValidateMetadata(mod.Metadata()); verr != nil {
				err = &LoadFailureError{ID: id, Err: fmt.Errorf("module metadata: %w", verr)}
			}
		}

		m.mu.Lock()
		if err != nil {
			rec.state = StateFailed
			rec.err = err
			m.signalLocked(rec)
			m.mu.Unlock()
			m.announce(ctx, id, StateLoading, StateFailed)
			m.logger.Error(ctx, "module load attempt failed",
				"module_id", id, "attempt", attempt, "max", m.maxRetries, "err", err)
			select {
			case <-time.After(m.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		rec.module = mod
		rec.state = StateLoaded
		rec.err = nil
		m.signalLocked(rec)
		m.mu.Unlock()
		m.announce(ctx, id, StateLoading, StateLoaded)
		return mod, nil
	}
}

// Activate brings the module to Activated, recursively activating its
// declared dependencies first. Dependency failures propagate and leave this
// module Loaded; only its own load or activate failures mark it Failed.
func (m *Manager) Activate(ctx context.Context, id string) error {
	for {
		m.mu.Lock()
		rec, ok := m.records[id]
		if ok {
			switch rec.state {
			case StateActivated:
				m.mu.Unlock()
				return nil
			case StateActivating:
				ch := rec.changed
				m.mu.Unlock()
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		m.mu.Unlock()
		break
	}

	mod, err := m.Load(ctx, id)
	if err != nil {
		return err
	}
	meta := mod.Metadata()

	if err := m.validateDependencies(id, meta.Dependencies); err != nil {
		m.fail(ctx, id, err)
		return err
	}
	for _, dep := range meta.Dependencies {
		if err := m.Activate(ctx, dep); err != nil {
			// The module itself is intact; it stays Loaded and can be
			// activated again once the dependency recovers.
			return &DependencyError{ID: id, Dependency: dep, Reason: err.Error()}
		}
	}

	m.mu.Lock()
	rec := m.recordLocked(id)
	for rec.state == StateActivating {
		// Another caller is mid-activation; wait for its outcome.
		ch := rec.changed
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}
	if rec.state == StateActivated {
		m.mu.Unlock()
		return nil
	}
	if rec.state == StateFailed {
		err := rec.err
		m.mu.Unlock()
		return err
	}
	from := rec.state
	rec.state = StateActivating
	m.signalLocked(rec)
	m.mu.Unlock()
	m.announce(ctx, id, from, StateActivating)

	if len(meta.Packages) > 0 && m.installer != nil {
		if err := m.installer.InstallPackages(ctx, meta.Packages); err != nil {
			ferr := fmt.Errorf("install packages for module %q: %w", id, err)
			m.fail(ctx, id, ferr)
			return ferr
		}
	}

	if err := m.activateBounded(ctx, id, mod); err != nil {
		m.fail(ctx, id, err)
		return err
	}

	m.mu.Lock()
	rec.state = StateActivated
	rec.err = nil
	m.signalLocked(rec)
	m.mu.Unlock()
	m.announce(ctx, id, StateActivating, StateActivated)
	return nil
}

// Deactivate calls the module's deactivate callable and returns it to
// Loaded. Reverse-dependents are not cascaded. Deactivating a module that is
// not Activated is a no-op.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	rec, ok := m.records[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("module %q: %w", id, ErrUnknownModule)
	}
	if rec.state != StateActivated {
		m.mu.Unlock()
		return nil
	}
	mod := rec.module
	m.mu.Unlock()

	if err := mod.Deactivate(ctx); err != nil {
		m.logger.Error(ctx, "module deactivate failed", "module_id", id, "err", err)
		return fmt.Errorf("deactivate module %q: %w", id, err)
	}

	m.mu.Lock()
	rec.state = StateLoaded
	m.signalLocked(rec)
	m.mu.Unlock()
	m.announce(ctx, id, StateActivated, StateLoaded)
	return nil
}

// API returns the module's API while it is Activated, nil otherwise.
func (m *Manager) API(ctx context.Context, id string) any {
	m.mu.Lock()
	rec, ok := m.records[id]
	var (
		state State
		mod   Module
	)
	if ok {
		state = rec.state
		mod = rec.module
	}
	m.mu.Unlock()

	if !ok || state != StateActivated || mod == nil {
		m.logger.Warn(ctx, "module API requested while not activated",
			"module_id", id, "state", string(state))
		return nil
	}
	return mod.API()
}

// ModuleState returns the module's current state. Unknown ids report
// StateUnloaded and false.
func (m *Manager) ModuleState(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return StateUnloaded, false
	}
	return rec.state, true
}

// LastError returns the error recorded by the module's most recent failed
// transition.
func (m *Manager) LastError(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		return rec.err
	}
	return nil
}

// States returns a snapshot of every known module's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.records))
	for id, rec := range m.records {
		out[id] = rec.state
	}
	return out
}

// Activated returns the ids of all Activated modules, sorted.
func (m *Manager) Activated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, rec := range m.records {
		if rec.state == StateActivated {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Registered returns the metadata of every loaded module, sorted by id.
func (m *Manager) Registered() []Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Metadata
	for _, rec := range m.records {
		if rec.module != nil {
			out = append(out, rec.module.Metadata())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoaderIDs returns every registered loader id, sorted.
func (m *Manager) LoaderIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaders))
	for id := range m.loaders {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Unregister drops the module's record and loader. Callers deactivate
// first; unregistering does not run deactivate callables.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	delete(m.records, id)
	delete(m.loaders, id)
	m.mu.Unlock()
}

// validateDependencies rejects activation when a declared dependency is
// absent or mid-transition. Dependencies that are merely unloaded but have a
// registered loader pass; Activate loads them.
func (m *Manager) validateDependencies(id string, deps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dep := range deps {
		rec, ok := m.records[dep]
		if !ok {
			if _, registered := m.loaders[dep]; !registered {
				return &DependencyError{ID: id, Dependency: dep, Reason: "not registered"}
			}
			continue
		}
		if rec.state == StateFailed {
			return &DependencyError{ID: id, Dependency: dep, Reason: "in failed state"}
		}
		if rec.state.transient() {
			return &DependencyError{ID: id, Dependency: dep, Reason: fmt.Sprintf("in transient state %s", rec.state)}
		}
	}
	return nil
}

// loadBounded runs the loader under the load timeout. The loader goroutine
// is not forcibly stopped on timeout; its late result is discarded.
func (m *Manager) loadBounded(ctx context.Context, id string, loader LoaderFunc) (Module, error) {
	ctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	type result struct {
		mod Module
		err error
	}
	ch := make(chan result, 1)
	go func() {
		mod, err := loader(ctx)
		ch <- result{mod: mod, err: err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &LoadFailureError{ID: id, Err: r.err}
		}
		if r.mod == nil {
			return nil, &LoadFailureError{ID: id, Err: errors.New("loader returned nil module")}
		}
		return r.mod, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &LoadTimeoutError{ID: id, Timeout: m.loadTimeout}
		}
		return nil, ctx.Err()
	}
}

// activateBounded runs the module's activate callable under the load
// timeout.
func (m *Manager) activateBounded(ctx context.Context, id string, mod Module) error {
	ctx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() { ch <- mod.Activate(ctx) }()
	select {
	case err := <-ch:
		if err != nil {
			return fmt.Errorf("activate module %q: %w", id, err)
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &LoadTimeoutError{ID: id, Timeout: m.loadTimeout}
		}
		return ctx.Err()
	}
}

// fail transitions the module to Failed and records err.
func (m *Manager) fail(ctx context.Context, id string, err error) {
	m.mu.Lock()
	rec := m.recordLocked(id)
	from := rec.state
	rec.state = StateFailed
	rec.err = err
	m.signalLocked(rec)
	m.mu.Unlock()
	m.announce(ctx, id, from, StateFailed)
}

// recordLocked returns the record for id, creating an Unloaded one on first
// touch. Callers hold m.mu.
func (m *Manager) recordLocked(id string) *record {
	rec, ok := m.records[id]
	if !ok {
		rec = &record{id: id, state: StateUnloaded, changed: make(chan struct{})}
		m.records[id] = rec
	}
	return rec
}

// signalLocked wakes every waiter blocked on the record's previous state.
// Callers hold m.mu.
func (m *Manager) signalLocked(rec *record) {
	close(rec.changed)
	rec.changed = make(chan struct{})
}

// announce logs and publishes a state transition.
func (m *Manager) announce(ctx context.Context, id string, from, to State) {
	m.logger.Debug(ctx, "module state changed", "module_id", id, "from", string(from), "to", string(to))
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, hooks.NewModuleStateEvent(id, string(from), string(to))); err != nil {
		m.logger.Warn(ctx, "module state event dropped", "module_id", id, "err", err)
	}
}
