package latch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/latchkit/latch/ext"
	"github.com/latchkit/latch/hook"
)

// hostAdapter is the per-instance ext.Host. It carries the owner identity
// for subscriptions, so two instances under the same name never share bus
// entries.
type hostAdapter struct {
	m    *Manager
	name string
	ctl  *ext.Control
}

func (h *hostAdapter) Subscribe(name hook.Name, cb hook.Callback, priority hook.Priority) (hook.Handle, error) {
	if h.ctl == nil {
		return hook.Handle{}, ext.ErrNotAttached
	}
	return h.m.bus.Subscribe(name, h.ctl, cb, priority), nil
}

func (h *hostAdapter) Unsubscribe(hd hook.Handle) bool {
	return h.m.bus.Unsubscribe(hd)
}

func (h *hostAdapter) LoadConfig(ctx context.Context) (map[string]any, error) {
	return h.m.store.GetConfig(ctx, h.name)
}

func (h *hostAdapter) SaveConfig(ctx context.Context, cfg map[string]any) error {
	return h.m.store.SetConfig(ctx, h.name, cfg)
}

// ──────────────────────────────────────────────────
// Transitions (all require m.mu held)
// ──────────────────────────────────────────────────

// loadLocked drives Unloaded → Loaded: instantiate, attach, seed config,
// run OnLoad. A failed load discards the instance — it never enters the
// registry — and records a load error. A name collision with an existing
// instance is resolved last-load-wins: the previous instance is cleanly
// unloaded first and the collision is recorded.
func (m *Manager) loadLocked(ctx context.Context, f Factory, source, unit string) (string, error) {
	e, err := construct(f)
	if err != nil {
		m.record(Record{Unit: unit, Phase: PhaseLoad, Err: err})
		m.logger.Error("extension construction failed",
			slog.String("unit", unit),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	meta := e.Metadata()
	if meta.Name == "" {
		m.record(Record{Unit: unit, Phase: PhaseLoad, Err: ErrEmptyName})
		return "", ErrEmptyName
	}

	adapter := &hostAdapter{m: m, name: meta.Name}
	ctl := ext.Attach(e, meta, adapter)
	adapter.ctl = ctl

	if cfg, err := m.store.GetConfig(ctx, meta.Name); err != nil {
		m.logger.Warn("config unavailable; starting empty",
			slog.String("extension", meta.Name),
			slog.String("error", err.Error()),
		)
	} else {
		ctl.SetConfig(cfg)
	}

	if err := m.callOnLoad(ctx, e); err != nil {
		// Partial loads may have subscribed already; sweep them out
		// before the instance is discarded.
		m.bus.UnsubscribeOwner(ctl)
		ctl.Detach()
		m.record(Record{Extension: meta.Name, Unit: unit, Phase: PhaseLoad, Err: err})
		m.logger.Error("extension load failed",
			slog.String("extension", meta.Name),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %s: %w", ErrLoadFailed, meta.Name, err)
	}

	if old, ok := m.plugins.Get(meta.Name); ok {
		m.record(Record{
			Extension: meta.Name,
			Unit:      unit,
			Phase:     PhaseLoad,
			Err:       fmt.Errorf("name collision: replacing instance from unit %q", old.unit),
		})
		m.unloadInstanceLocked(ctx, old)
	}

	ctl.SetState(ext.StateLoaded)
	m.plugins.Set(meta.Name, &instance{ctl: ctl, factory: f, source: source, unit: unit})
	m.logger.Info("extension loaded",
		slog.String("extension", meta.Name),
		slog.String("version", meta.Version),
	)
	return meta.Name, nil
}

// enableLocked drives Loaded/Disabled → Enabled, gated on every declared
// dependency being present and enabled. An OnEnable failure quarantines
// the instance in StateError; only unload leaves that state.
func (m *Manager) enableLocked(ctx context.Context, name string) error {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}

	switch st := inst.ctl.State(); st {
	case ext.StateEnabled:
		return nil
	case ext.StateLoaded, ext.StateDisabled:
	default:
		return fmt.Errorf("%w: cannot enable %s while %s", ErrInvalidState, name, st)
	}

	for _, dep := range inst.ctl.Metadata().Dependencies {
		d, ok := m.plugins.Get(dep)
		if !ok {
			err := fmt.Errorf("%w: %s requires %s, which is not loaded", ErrDependency, name, dep)
			m.record(Record{Extension: name, Phase: PhaseEnable, Err: err})
			return err
		}
		if d.ctl.State() != ext.StateEnabled {
			err := fmt.Errorf("%w: %s requires %s, which is %s", ErrDependency, name, dep, d.ctl.State())
			m.record(Record{Extension: name, Phase: PhaseEnable, Err: err})
			return err
		}
	}

	if err := m.callOnEnable(ctx, inst.ctl.Extension()); err != nil {
		// No rollback of the extension's internal state is attempted;
		// that is its own responsibility.
		inst.ctl.SetState(ext.StateError)
		m.record(Record{Extension: name, Phase: PhaseEnable, Err: err})
		m.logger.Error("extension enable failed",
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("latch: enable %s: %w", name, err)
	}

	inst.ctl.SetState(ext.StateEnabled)
	m.logger.Info("extension enabled", slog.String("extension", name))
	return nil
}

// disableLocked drives Enabled → Disabled. OnDisable cannot block the
// transition: a panic is recorded and the state still moves.
func (m *Manager) disableLocked(ctx context.Context, name string) error {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	if inst.ctl.State() != ext.StateEnabled {
		return nil
	}

	if err := m.callOnDisable(ctx, inst.ctl.Extension()); err != nil {
		m.record(Record{Extension: name, Phase: PhaseDisable, Err: err})
		m.logger.Error("extension disable panicked",
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
	}

	inst.ctl.SetState(ext.StateDisabled)
	m.logger.Info("extension disabled", slog.String("extension", name))
	return nil
}

// unloadLocked drives any registered state → Unloaded.
func (m *Manager) unloadLocked(ctx context.Context, name string) error {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	m.unloadInstanceLocked(ctx, inst)
	return nil
}

func (m *Manager) unloadInstanceLocked(ctx context.Context, inst *instance) {
	name := inst.ctl.Name()

	if inst.ctl.State() == ext.StateEnabled {
		_ = m.disableLocked(ctx, name)
	}

	// Subscriptions go first: no notification arrives once OnUnload
	// begins.
	removed := m.bus.UnsubscribeOwner(inst.ctl)

	if err := m.callOnUnload(ctx, inst.ctl.Extension()); err != nil {
		m.record(Record{Extension: name, Phase: PhaseUnload, Err: err})
		m.logger.Error("extension unload panicked",
			slog.String("extension", name),
			slog.String("error", err.Error()),
		)
	}

	inst.ctl.Detach()
	m.plugins.Remove(name)
	m.logger.Info("extension unloaded",
		slog.String("extension", name),
		slog.Int("subscriptions_removed", removed),
	)
}

// reloadLocked drives unload → re-resolve → load → conditional re-enable.
// Any failing step leaves the extension unloaded.
func (m *Manager) reloadLocked(ctx context.Context, name string) error {
	inst, ok := m.plugins.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}
	wasEnabled := inst.ctl.State() == ext.StateEnabled

	m.unloadInstanceLocked(ctx, inst)

	f := inst.factory
	if inst.source != "" {
		src, err := m.sourceByName(inst.source)
		if err != nil {
			m.record(Record{Extension: name, Unit: inst.unit, Phase: PhaseReload, Err: err})
			return err
		}
		f, err = src.Load(ctx, inst.unit)
		if err != nil {
			m.record(Record{Extension: name, Unit: inst.unit, Phase: PhaseReload, Err: err})
			m.logger.Error("reload could not re-resolve unit",
				slog.String("extension", name),
				slog.String("unit", inst.unit),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	newName, err := m.loadLocked(ctx, f, inst.source, inst.unit)
	if err != nil {
		return fmt.Errorf("latch: reload %s: %w", name, err)
	}

	if wasEnabled {
		if err := m.enableLocked(ctx, newName); err != nil {
			// Not silently left half-restored: a failed re-enable
			// unloads the fresh instance again.
			_ = m.unloadLocked(ctx, newName)
			m.record(Record{Extension: newName, Phase: PhaseReload, Err: err})
			return fmt.Errorf("latch: reload %s: %w", name, err)
		}
	}

	m.logger.Info("extension reloaded",
		slog.String("extension", newName),
		slog.Bool("re_enabled", wasEnabled),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Callback invocation
// ──────────────────────────────────────────────────

func construct(f Factory) (e ext.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	e = f()
	if e == nil {
		return nil, errors.New("factory returned nil extension")
	}
	return e, nil
}

func (m *Manager) callOnLoad(ctx context.Context, e ext.Extension) (err error) {
	defer m.recoverCallback("OnLoad", e, &err)
	return e.OnLoad(ctx)
}

func (m *Manager) callOnEnable(ctx context.Context, e ext.Extension) (err error) {
	defer m.recoverCallback("OnEnable", e, &err)
	return e.OnEnable(ctx)
}

func (m *Manager) callOnDisable(ctx context.Context, e ext.Extension) (err error) {
	defer m.recoverCallback("OnDisable", e, &err)
	e.OnDisable(ctx)
	return nil
}

func (m *Manager) callOnUnload(ctx context.Context, e ext.Extension) (err error) {
	defer m.recoverCallback("OnUnload", e, &err)
	e.OnUnload(ctx)
	return nil
}

func (m *Manager) recoverCallback(phase string, e ext.Extension, err *error) {
	if r := recover(); r != nil {
		m.logger.Error("lifecycle callback panicked",
			slog.String("callback", phase),
			slog.String("extension", e.Metadata().Name),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		*err = fmt.Errorf("%s panicked: %v", phase, r)
	}
}
