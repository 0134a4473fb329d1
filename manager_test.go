package latch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/latchkit/latch"
	"github.com/latchkit/latch/ext"
	"github.com/latchkit/latch/hook"
	"github.com/latchkit/latch/store/memory"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// testExt is a scriptable extension: it subscribes to the given hooks
// during OnLoad and records every lifecycle call and hook delivery.
type testExt struct {
	ext.Base
	meta      ext.Metadata
	loadErr   error
	enableErr error
	hooks     []hook.Name

	calls []string
	fired []hook.Name
}

func (e *testExt) Metadata() ext.Metadata { return e.meta }

func (e *testExt) OnLoad(_ context.Context) error {
	e.calls = append(e.calls, "OnLoad")
	if e.loadErr != nil {
		return e.loadErr
	}
	for _, name := range e.hooks {
		_, err := e.Subscribe(name, func(_ context.Context, hc *hook.Context) (hook.Result, error) {
			e.fired = append(e.fired, hc.Hook)
			return hook.Continue, nil
		}, hook.Normal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *testExt) OnEnable(_ context.Context) error {
	e.calls = append(e.calls, "OnEnable")
	return e.enableErr
}

func (e *testExt) OnDisable(_ context.Context) { e.calls = append(e.calls, "OnDisable") }
func (e *testExt) OnUnload(_ context.Context)  { e.calls = append(e.calls, "OnUnload") }

func factoryFor(e *testExt) latch.Factory {
	return func() ext.Extension { return e }
}

func newManager(t *testing.T, opts ...latch.Option) *latch.Manager {
	t.Helper()
	m, err := latch.New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// ──────────────────────────────────────────────────
// Load
// ──────────────────────────────────────────────────

func TestManager_LoadRegistersInstance(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{meta: ext.Metadata{Name: "greeter", Version: "1.0.0"}}
	name, err := m.Load(ctx, factoryFor(e))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != "greeter" {
		t.Errorf("Load returned %q, want greeter", name)
	}

	info, ok := m.Get("greeter")
	if !ok {
		t.Fatal("Get: extension not registered")
	}
	if info.State != ext.StateLoaded {
		t.Errorf("State = %v, want StateLoaded", info.State)
	}
	if info.Metadata.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", info.Metadata.Version)
	}
	if len(e.calls) != 1 || e.calls[0] != "OnLoad" {
		t.Errorf("calls = %v, want [OnLoad]", e.calls)
	}
}

func TestManager_LoadFailureDiscardsInstance(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{
		meta:    ext.Metadata{Name: "broken"},
		loadErr: errors.New("boom"),
	}
	if _, err := m.Load(ctx, factoryFor(e)); !errors.Is(err, latch.ErrLoadFailed) {
		t.Fatalf("Load: err = %v, want ErrLoadFailed", err)
	}

	if _, ok := m.Get("broken"); ok {
		t.Error("a failed load must not register the instance")
	}
	recs := m.Errors()
	if len(recs) != 1 || recs[0].Phase != latch.PhaseLoad || recs[0].Extension != "broken" {
		t.Errorf("error log = %v, want one load record for broken", recs)
	}

	// Late use of the discarded instance fails cleanly.
	if _, err := e.Subscribe(hook.AppStart, nil, hook.Normal); !errors.Is(err, ext.ErrNotAttached) {
		t.Errorf("Subscribe after failed load: err = %v, want ErrNotAttached", err)
	}
}

func TestManager_LoadRejectsEmptyName(t *testing.T) {
	m := newManager(t)

	e := &testExt{meta: ext.Metadata{}}
	if _, err := m.Load(context.Background(), factoryFor(e)); !errors.Is(err, latch.ErrEmptyName) {
		t.Fatalf("Load: err = %v, want ErrEmptyName", err)
	}
}

func TestManager_LastLoadWins(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	first := &testExt{meta: ext.Metadata{Name: "dup", Version: "1.0.0"}, hooks: []hook.Name{hook.AppStart}}
	second := &testExt{meta: ext.Metadata{Name: "dup", Version: "2.0.0"}}

	if _, err := m.Load(ctx, factoryFor(first)); err != nil {
		t.Fatalf("Load first: %v", err)
	}
	if err := m.Enable(ctx, "dup"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, err := m.Load(ctx, factoryFor(second)); err != nil {
		t.Fatalf("Load second: %v", err)
	}

	info, ok := m.Get("dup")
	if !ok {
		t.Fatal("Get: extension gone after replacement")
	}
	if info.Metadata.Version != "2.0.0" {
		t.Errorf("Version = %q, want the replacement's 2.0.0", info.Metadata.Version)
	}
	if info.State != ext.StateLoaded {
		t.Errorf("State = %v, want StateLoaded for the fresh instance", info.State)
	}

	// The predecessor was cleanly unloaded, not dropped on the floor.
	if len(first.calls) == 0 || first.calls[len(first.calls)-1] != "OnUnload" {
		t.Errorf("first.calls = %v, want OnUnload last", first.calls)
	}

	// Its subscriptions are gone: dispatching reaches nobody.
	m.Dispatch(ctx, hook.AppStart, nil)
	if len(first.fired) != 0 {
		t.Errorf("replaced instance still receives hooks: %v", first.fired)
	}

	// The collision is on the record.
	var collision bool
	for _, r := range m.Errors() {
		if r.Extension == "dup" && r.Phase == latch.PhaseLoad {
			collision = true
		}
	}
	if !collision {
		t.Error("expected a recorded name collision")
	}
}

// ──────────────────────────────────────────────────
// Enable / Disable
// ──────────────────────────────────────────────────

func TestManager_EnableActivatesDispatch(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{meta: ext.Metadata{Name: "listener"}, hooks: []hook.Name{hook.AppStart}}
	if _, err := m.Load(ctx, factoryFor(e)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Loaded but not enabled: subscriptions exist but stay silent.
	m.Dispatch(ctx, hook.AppStart, nil)
	if len(e.fired) != 0 {
		t.Fatalf("disabled extension received hooks: %v", e.fired)
	}

	if err := m.Enable(ctx, "listener"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	out := m.Dispatch(ctx, hook.AppStart, map[string]any{"k": 1})
	if len(e.fired) != 1 || e.fired[0] != hook.AppStart {
		t.Fatalf("fired = %v, want [app.start]", e.fired)
	}
	if r, ok := out.Result("listener"); !ok || r != hook.Continue {
		t.Errorf("result = %v (%v), want Continue", r, ok)
	}

	// Enable is idempotent.
	if err := m.Enable(ctx, "listener"); err != nil {
		t.Errorf("second Enable: %v", err)
	}
	if got := len(e.calls); got != 2 { // OnLoad, OnEnable
		t.Errorf("calls = %v, OnEnable must not run twice", e.calls)
	}
}

func TestManager_EnableUnknownExtension(t *testing.T) {
	m := newManager(t)
	if err := m.Enable(context.Background(), "ghost"); !errors.Is(err, latch.ErrExtensionNotFound) {
		t.Fatalf("Enable: err = %v, want ErrExtensionNotFound", err)
	}
}

func TestManager_DependencyGating(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	dep := &testExt{meta: ext.Metadata{Name: "base-lib"}}
	user := &testExt{meta: ext.Metadata{Name: "consumer", Dependencies: []string{"base-lib"}}}

	if _, err := m.Load(ctx, factoryFor(user)); err != nil {
		t.Fatalf("Load consumer: %v", err)
	}

	// Dependency not loaded at all.
	if err := m.Enable(ctx, "consumer"); !errors.Is(err, latch.ErrDependency) {
		t.Fatalf("Enable with missing dep: err = %v, want ErrDependency", err)
	}

	// Loaded but not enabled is still not enough.
	if _, err := m.Load(ctx, factoryFor(dep)); err != nil {
		t.Fatalf("Load base-lib: %v", err)
	}
	if err := m.Enable(ctx, "consumer"); !errors.Is(err, latch.ErrDependency) {
		t.Fatalf("Enable with disabled dep: err = %v, want ErrDependency", err)
	}
	if info, _ := m.Get("consumer"); info.State != ext.StateLoaded {
		t.Errorf("State = %v, a failed dependency check must not change state", info.State)
	}

	if err := m.Enable(ctx, "base-lib"); err != nil {
		t.Fatalf("Enable base-lib: %v", err)
	}
	if err := m.Enable(ctx, "consumer"); err != nil {
		t.Fatalf("Enable consumer: %v", err)
	}
	if info, _ := m.Get("consumer"); info.State != ext.StateEnabled {
		t.Errorf("State = %v, want StateEnabled", info.State)
	}
}

func TestManager_EnableFailureQuarantines(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{meta: ext.Metadata{Name: "flaky"}, enableErr: errors.New("no resources")}
	if _, err := m.Load(ctx, factoryFor(e)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := m.Enable(ctx, "flaky"); err == nil {
		t.Fatal("Enable should fail")
	}
	if info, _ := m.Get("flaky"); info.State != ext.StateError {
		t.Fatalf("State = %v, want StateError", info.State)
	}

	// Error state is a quarantine: enable and disable both refuse.
	if err := m.Enable(ctx, "flaky"); !errors.Is(err, latch.ErrInvalidState) {
		t.Errorf("Enable from error state: err = %v, want ErrInvalidState", err)
	}
	if err := m.Disable(ctx, "flaky"); err != nil {
		t.Errorf("Disable from error state should be a no-op, got %v", err)
	}
	if info, _ := m.Get("flaky"); info.State != ext.StateError {
		t.Errorf("State = %v, quarantine must hold", info.State)
	}

	// Unload is the only exit.
	if err := m.Unload(ctx, "flaky"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := m.Get("flaky"); ok {
		t.Error("extension still registered after unload")
	}
}

func TestManager_DisablePausesDispatch(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{meta: ext.Metadata{Name: "pausable"}, hooks: []hook.Name{hook.AppStart}}
	if _, err := m.Load(ctx, factoryFor(e)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Enable(ctx, "pausable"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m.Disable(ctx, "pausable"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	m.Dispatch(ctx, hook.AppStart, nil)
	if len(e.fired) != 0 {
		t.Errorf("disabled extension received hooks: %v", e.fired)
	}
	if info, _ := m.Get("pausable"); info.State != ext.StateDisabled {
		t.Errorf("State = %v, want StateDisabled", info.State)
	}

	// Disable of a non-enabled extension is a no-op, not an error.
	if err := m.Disable(ctx, "pausable"); err != nil {
		t.Errorf("second Disable: %v", err)
	}

	// Re-enable resumes delivery without another OnLoad.
	if err := m.Enable(ctx, "pausable"); err != nil {
		t.Fatalf("re-Enable: %v", err)
	}
	m.Dispatch(ctx, hook.AppStart, nil)
	if len(e.fired) != 1 {
		t.Errorf("fired = %v, want one delivery after re-enable", e.fired)
	}
}

// ──────────────────────────────────────────────────
// Unload / Reload
// ──────────────────────────────────────────────────

func TestManager_UnloadRemovesSubscriptions(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	e := &testExt{meta: ext.Metadata{Name: "leaver"}, hooks: []hook.Name{hook.AppStart, hook.AppShutdown}}
	if _, err := m.Load(ctx, factoryFor(e)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := m.Enable(ctx, "leaver"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := m.Unload(ctx, "leaver"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if _, ok := m.Get("leaver"); ok {
		t.Fatal("extension still registered after unload")
	}

	// A still-enabled extension is disabled on the way out.
	want := []string{"OnLoad", "OnEnable", "OnDisable", "OnUnload"}
	if len(e.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", e.calls, want)
	}
	for i := range want {
		if e.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, e.calls[i], want[i])
		}
	}

	m.Dispatch(ctx, hook.AppStart, nil)
	m.Dispatch(ctx, hook.AppShutdown, nil)
	if len(e.fired) != 0 {
		t.Errorf("unloaded extension received hooks: %v", e.fired)
	}
	if got := m.Bus().Count(hook.AppStart); got != 0 {
		t.Errorf("bus still holds %d subscriptions", got)
	}
}

func TestManager_ReloadPreservesEnablement(t *testing.T) {
	src := latch.NewStaticSource("builtin")
	built := 0
	err := src.Register("greeter-unit", func() ext.Extension {
		built++
		return &testExt{meta: ext.Metadata{Name: "greeter"}}
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := newManager(t, latch.WithSource(src))
	ctx := context.Background()

	if _, err := m.LoadUnit(ctx, "builtin", "greeter-unit"); err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}
	if err := m.Enable(ctx, "greeter"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := m.Reload(ctx, "greeter"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if built != 2 {
		t.Errorf("factory ran %d times, want 2", built)
	}
	if info, _ := m.Get("greeter"); info.State != ext.StateEnabled {
		t.Errorf("State = %v, an enabled extension must come back enabled", info.State)
	}

	// A disabled extension is not re-enabled by reload.
	if err := m.Disable(ctx, "greeter"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if err := m.Reload(ctx, "greeter"); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if info, _ := m.Get("greeter"); info.State != ext.StateLoaded {
		t.Errorf("State = %v, want StateLoaded after reloading a disabled extension", info.State)
	}
}

func TestManager_ReloadFailureLeavesUnloaded(t *testing.T) {
	src := latch.NewStaticSource("builtin")
	built := 0
	err := src.Register("flaky-unit", func() ext.Extension {
		built++
		e := &testExt{meta: ext.Metadata{Name: "flaky"}}
		if built > 1 {
			e.loadErr = errors.New("update is broken")
		}
		return e
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := newManager(t, latch.WithSource(src))
	ctx := context.Background()

	if _, err := m.LoadUnit(ctx, "builtin", "flaky-unit"); err != nil {
		t.Fatalf("LoadUnit: %v", err)
	}
	if err := m.Enable(ctx, "flaky"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := m.Reload(ctx, "flaky"); err == nil {
		t.Fatal("Reload should fail when the fresh load fails")
	}
	if _, ok := m.Get("flaky"); ok {
		t.Error("a failed reload must leave the extension unloaded")
	}
}

// ──────────────────────────────────────────────────
// Discovery
// ──────────────────────────────────────────────────

func TestManager_DiscoverIsolatesFailures(t *testing.T) {
	src := latch.NewStaticSource("builtin")
	if err := src.Register("good", func() ext.Extension {
		return &testExt{meta: ext.Metadata{Name: "good"}}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := src.Register("panicky", func() ext.Extension {
		panic("factory bug")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := src.Register("nameless", func() ext.Extension {
		return &testExt{meta: ext.Metadata{}}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m := newManager(t, latch.WithSource(src))
	loaded, err := m.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "good" {
		t.Fatalf("loaded = %v, want [good]", loaded)
	}
	if got := len(m.Errors()); got != 2 {
		t.Errorf("error log has %d records, want 2: %v", got, m.Errors())
	}
}

func TestManager_ListSortedByName(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		e := &testExt{meta: ext.Metadata{Name: name}}
		if _, err := m.Load(ctx, factoryFor(e)); err != nil {
			t.Fatalf("Load %s: %v", name, err)
		}
	}

	infos := m.List()
	if len(infos) != 3 {
		t.Fatalf("List = %d entries, want 3", len(infos))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if infos[i].Metadata.Name != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, infos[i].Metadata.Name, want[i])
		}
	}
}

// ──────────────────────────────────────────────────
// Start / Stop
// ──────────────────────────────────────────────────

func TestManager_StartStopRoundTripsEnabledSet(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	src := latch.NewStaticSource("builtin")
	for _, name := range []string{"keeper", "sleeper"} {
		name := name
		if err := src.Register(name, func() ext.Extension {
			return &testExt{meta: ext.Metadata{Name: name}}
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	m1 := newManager(t, latch.WithStore(st), latch.WithSource(src))
	if err := m1.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m1.Enable(ctx, "keeper"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := m1.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Second run against the same store restores enablement.
	m2 := newManager(t, latch.WithStore(st), latch.WithSource(src))
	if err := m2.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info, _ := m2.Get("keeper"); info.State != ext.StateEnabled {
		t.Errorf("keeper state = %v, want StateEnabled", info.State)
	}
	if info, _ := m2.Get("sleeper"); info.State != ext.StateLoaded {
		t.Errorf("sleeper state = %v, want StateLoaded", info.State)
	}
}

func TestManager_StartRestoresDependenciesFirst(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	if err := st.SaveEnabledSet(ctx, []string{"consumer", "base-lib"}); err != nil {
		t.Fatalf("SaveEnabledSet: %v", err)
	}

	src := latch.NewStaticSource("builtin")
	if err := src.Register("consumer", func() ext.Extension {
		return &testExt{meta: ext.Metadata{Name: "consumer", Dependencies: []string{"base-lib"}}}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := src.Register("base-lib", func() ext.Extension {
		return &testExt{meta: ext.Metadata{Name: "base-lib"}}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The stored order lists the dependent first; restore must still
	// bring both up.
	m := newManager(t, latch.WithStore(st), latch.WithSource(src))
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range []string{"base-lib", "consumer"} {
		if info, _ := m.Get(name); info.State != ext.StateEnabled {
			t.Errorf("%s state = %v, want StateEnabled", name, info.State)
		}
	}
}

// ──────────────────────────────────────────────────
// Host subscriptions
// ──────────────────────────────────────────────────

func TestManager_HostSubscriptionsAlwaysRun(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	seen := 0
	h := m.Subscribe(hook.AppStart, func(_ context.Context, _ *hook.Context) (hook.Result, error) {
		seen++
		return hook.Continue, nil
	}, hook.Monitor)

	m.Dispatch(ctx, hook.AppStart, nil)
	if seen != 1 {
		t.Fatalf("host subscription ran %d times, want 1", seen)
	}

	if !m.Unsubscribe(h) {
		t.Fatal("Unsubscribe should remove the host subscription")
	}
	m.Dispatch(ctx, hook.AppStart, nil)
	if seen != 1 {
		t.Errorf("removed host subscription still ran")
	}
}
