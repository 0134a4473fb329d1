package latch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/latchkit/latch/ext"
	"github.com/latchkit/latch/hook"
	"github.com/latchkit/latch/store"
	"github.com/latchkit/latch/store/memory"
)

// instance is one live extension plus its origin, kept for reload.
type instance struct {
	ctl     *ext.Control
	factory Factory
	source  string
	unit    string
}

// Info is a point-in-time snapshot of one extension for host UIs.
type Info struct {
	Metadata ext.Metadata
	State    ext.State
	Source   string
	Unit     string
}

// Manager is the extension runtime: it owns the registry of live
// instances, the hook bus, and the lifecycle state machine. Construct one
// with New and wire it at the host's composition root.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	bus     *hook.Bus
	store   store.Store
	sources []Source

	// mu serializes lifecycle transitions and registry mutations;
	// dependency checks need a consistent multi-key view. Lookups go
	// through the concurrent map.
	mu      sync.Mutex
	plugins cmap.ConcurrentMap[string, *instance]
	started bool

	emu  sync.Mutex
	errs []Record

	wmu     sync.Mutex
	watcher *watchState
}

// New creates a Manager with the given options.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		plugins: cmap.New[*instance](),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.store == nil {
		m.store = memory.New()
	}

	bus, err := hook.NewBus(
		hook.WithLogger(m.logger),
		hook.WithPoolSize(m.cfg.PoolSize),
	)
	if err != nil {
		return nil, err
	}
	m.bus = bus
	return m, nil
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Store returns the persistence backend.
func (m *Manager) Store() store.Store { return m.store }

// Bus returns the hook bus.
func (m *Manager) Bus() *hook.Bus { return m.bus }

// ──────────────────────────────────────────────────
// Discovery and loading
// ──────────────────────────────────────────────────

// Discover enumerates every configured source and loads each unit.
// Failures are isolated per unit: they land in the error log and the
// batch continues. Returns the names that loaded successfully.
func (m *Manager) Discover(ctx context.Context) ([]string, error) {
	if len(m.sources) == 0 {
		m.logger.Warn("discover called with no sources configured")
		return nil, nil
	}

	var loaded []string
	for _, src := range m.sources {
		units, err := src.Enumerate(ctx)
		if err != nil {
			m.record(Record{Unit: src.Name(), Phase: PhaseDiscovery, Err: err})
			m.logger.Error("source enumeration failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, unit := range units {
			f, err := src.Load(ctx, unit)
			if err != nil {
				m.record(Record{Unit: unit, Phase: PhaseDiscovery, Err: err})
				m.logger.Error("unit load failed",
					slog.String("source", src.Name()),
					slog.String("unit", unit),
					slog.String("error", err.Error()),
				)
				continue
			}
			name, err := m.load(ctx, f, src.Name(), unit)
			if err != nil {
				continue // already recorded
			}
			loaded = append(loaded, name)
		}
	}
	m.logger.Info("discovery finished", slog.Int("loaded", len(loaded)))
	return loaded, nil
}

// Load instantiates and loads an extension from an explicit factory,
// bypassing discovery. Returns the extension's name.
func (m *Manager) Load(ctx context.Context, f Factory) (string, error) {
	return m.load(ctx, f, "", "")
}

// LoadUnit loads one unit from a named source.
func (m *Manager) LoadUnit(ctx context.Context, sourceName, unit string) (string, error) {
	src, err := m.sourceByName(sourceName)
	if err != nil {
		return "", err
	}
	f, err := src.Load(ctx, unit)
	if err != nil {
		m.record(Record{Unit: unit, Phase: PhaseDiscovery, Err: err})
		return "", err
	}
	return m.load(ctx, f, sourceName, unit)
}

func (m *Manager) load(ctx context.Context, f Factory, source, unit string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx, f, source, unit)
}

func (m *Manager) sourceByName(name string) (Source, error) {
	for _, src := range m.sources {
		if src.Name() == name {
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// ──────────────────────────────────────────────────
// Host-facing lifecycle API
// ──────────────────────────────────────────────────

// Enable activates an extension. Every declared dependency must already
// be loaded and enabled; otherwise the state is unchanged and the error
// is recorded.
func (m *Manager) Enable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enableLocked(ctx, name)
}

// Disable pauses an extension's participation in hook dispatch. The
// transition cannot fail: even a panicking OnDisable leaves the extension
// disabled.
func (m *Manager) Disable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableLocked(ctx, name)
}

// Unload tears an extension down: a still-enabled extension is disabled
// first, all of its hook subscriptions are removed before OnUnload runs,
// and the registry entry is deleted.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(ctx, name)
}

// Reload unloads an extension and loads it again from its originating
// unit, picking up an updated definition. An extension enabled before the
// reload is re-enabled after it; if any step fails the extension is left
// unloaded, never silently half-restored.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked(ctx, name)
}

// ──────────────────────────────────────────────────
// Hook dispatch
// ──────────────────────────────────────────────────

// Dispatch raises a hook against all enabled subscribers and returns the
// finished context.
func (m *Manager) Dispatch(ctx context.Context, name hook.Name, data map[string]any) *hook.Context {
	return m.bus.Dispatch(ctx, hook.NewContext(name, data))
}

// DispatchAsync raises a hook on the worker pool. Requires a Manager
// built with WithPoolSize.
func (m *Manager) DispatchAsync(ctx context.Context, name hook.Name, data map[string]any, done func(*hook.Context)) error {
	return m.bus.DispatchAsync(ctx, hook.NewContext(name, data), done)
}

// hostOwner is the owner for subscriptions made by the host itself.
// It is always enabled.
type hostOwner struct{}

func (hostOwner) Name() string  { return "host" }
func (hostOwner) Enabled() bool { return true }

// Subscribe registers a host-owned callback on a hook. Host subscriptions
// are never skipped and survive until unsubscribed.
func (m *Manager) Subscribe(name hook.Name, cb hook.Callback, priority hook.Priority) hook.Handle {
	return m.bus.Subscribe(name, hostOwner{}, cb, priority)
}

// Unsubscribe removes a subscription by handle.
func (m *Manager) Unsubscribe(h hook.Handle) bool {
	return m.bus.Unsubscribe(h)
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// List returns a snapshot of every registered extension, sorted by name.
func (m *Manager) List() []Info {
	items := m.plugins.Items()
	out := make([]Info, 0, len(items))
	for _, inst := range items {
		out = append(out, Info{
			Metadata: inst.ctl.Metadata(),
			State:    inst.ctl.State(),
			Source:   inst.source,
			Unit:     inst.unit,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out
}

// Get returns the snapshot for one extension.
func (m *Manager) Get(name string) (Info, bool) {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return Info{}, false
	}
	return Info{
		Metadata: inst.ctl.Metadata(),
		State:    inst.ctl.State(),
		Source:   inst.source,
		Unit:     inst.unit,
	}, true
}

// Extension returns the live extension instance, for hosts that need to
// reach capabilities beyond the lifecycle contract.
func (m *Manager) Extension(name string) (ext.Extension, bool) {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return nil, false
	}
	return inst.ctl.Extension(), true
}

// Errors returns a snapshot of the error log.
func (m *Manager) Errors() []Record {
	m.emu.Lock()
	defer m.emu.Unlock()
	return append([]Record(nil), m.errs...)
}

func (m *Manager) record(r Record) {
	r.Time = time.Now().UTC()
	m.emu.Lock()
	m.errs = append(m.errs, r)
	m.emu.Unlock()
}

// ──────────────────────────────────────────────────
// Runtime lifecycle
// ──────────────────────────────────────────────────

// Start runs discovery and restores the extensions that were enabled at
// last shutdown. A missing or unreadable enabled set degrades to "none".
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.Discover(ctx); err != nil {
		return err
	}
	if m.cfg.RestoreEnabled {
		m.restoreEnabled(ctx)
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

// Stop persists the enabled set, then disables and unloads every
// extension, and releases the bus and store.
func (m *Manager) Stop(ctx context.Context) error {
	var enabled []string
	names := make([]string, 0)
	for name, inst := range m.plugins.Items() {
		names = append(names, name)
		if inst.ctl.State() == ext.StateEnabled {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(names)
	sort.Strings(enabled)

	if err := m.store.SaveEnabledSet(ctx, enabled); err != nil {
		m.logger.Warn("saving enabled set failed",
			slog.String("error", err.Error()),
		)
	}

	for _, name := range names {
		if err := m.Disable(ctx, name); err != nil {
			m.logger.Warn("disable at shutdown failed",
				slog.String("extension", name),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, name := range names {
		if err := m.Unload(ctx, name); err != nil {
			m.logger.Warn("unload at shutdown failed",
				slog.String("extension", name),
				slog.String("error", err.Error()),
			)
		}
	}

	m.stopWatch()
	if err := m.bus.Close(); err != nil {
		m.logger.Warn("bus close failed", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return m.store.Close()
}

// restoreEnabled re-enables the persisted enabled set, dependencies
// first, so restore order does not depend on how the set was stored.
func (m *Manager) restoreEnabled(ctx context.Context) {
	names, err := m.store.EnabledSet(ctx)
	if err != nil {
		m.logger.Warn("enabled set unavailable; starting with none enabled",
			slog.String("error", err.Error()),
		)
		return
	}

	present := make([]string, 0, len(names))
	for _, name := range names {
		if m.plugins.Has(name) {
			present = append(present, name)
		} else {
			m.logger.Warn("previously enabled extension not found",
				slog.String("extension", name),
			)
		}
	}

	for _, name := range m.dependencyOrder(present) {
		if err := m.Enable(ctx, name); err != nil {
			m.logger.Error("restoring enablement failed",
				slog.String("extension", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dependencyOrder sorts names so dependencies come before dependents.
// Names in a dependency cycle keep their input order; their enable will
// fail the dependency check and be recorded.
func (m *Manager) dependencyOrder(names []string) []string {
	inSet := make(map[string]bool, len(names))
	for _, n := range names {
		inSet[n] = true
	}

	ordered := make([]string, 0, len(names))
	state := make(map[string]int, len(names)) // 0 new, 1 visiting, 2 done

	var visit func(string)
	visit = func(n string) {
		if state[n] != 0 {
			return
		}
		state[n] = 1
		if inst, ok := m.plugins.Get(n); ok {
			for _, dep := range inst.ctl.Metadata().Dependencies {
				if inSet[dep] && state[dep] == 0 {
					visit(dep)
				}
			}
		}
		state[n] = 2
		ordered = append(ordered, n)
	}
	for _, n := range names {
		visit(n)
	}
	return ordered
}
