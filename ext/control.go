package ext

import "github.com/latchkit/latch/hook"

// Control implements hook.Owner so the bus can skip subscriptions of
// extensions that are not enabled.
var _ hook.Owner = (*Control)(nil)

// Control is the runtime's handle on one extension instance. Attach
// returns it; only the runtime holds it, so only the runtime drives state.
type Control struct {
	rt  *runtimeState
	ext Extension
}

// Attach binds an extension to its runtime: captures the identity
// metadata, installs the per-instance host, and returns the control
// block. Called once by the runtime before OnLoad.
func Attach(e Extension, meta Metadata, host Host) *Control {
	rt := e.runtime()
	rt.mu.Lock()
	rt.meta = meta
	rt.host = host
	if rt.config == nil {
		rt.config = make(map[string]any)
	}
	rt.mu.Unlock()
	return &Control{rt: rt, ext: e}
}

// Extension returns the attached extension.
func (c *Control) Extension() Extension { return c.ext }

// Metadata returns the identity captured at attach time.
func (c *Control) Metadata() Metadata {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return c.rt.meta
}

// Name returns the extension's unique name.
func (c *Control) Name() string {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return c.rt.meta.Name
}

// Enabled reports whether the extension is in StateEnabled.
func (c *Control) Enabled() bool { return c.State() == StateEnabled }

// State returns the current lifecycle state.
func (c *Control) State() State {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return c.rt.state
}

// SetState moves the instance to a new lifecycle state.
func (c *Control) SetState(s State) {
	c.rt.mu.Lock()
	c.rt.state = s
	c.rt.mu.Unlock()
}

// SetConfig seeds the instance's config blob, typically from the store
// before OnLoad runs.
func (c *Control) SetConfig(cfg map[string]any) {
	if cfg == nil {
		cfg = make(map[string]any)
	}
	c.rt.mu.Lock()
	c.rt.config = cfg
	c.rt.mu.Unlock()
}

// Handles returns a copy of the subscription handles the extension
// registered through its Base.
func (c *Control) Handles() []hook.Handle {
	c.rt.mu.RLock()
	defer c.rt.mu.RUnlock()
	return append([]hook.Handle(nil), c.rt.handles...)
}

// Detach severs the extension from the runtime at unload: the host is
// removed (so late Subscribe calls fail with ErrNotAttached), tracked
// handles are dropped, and the state returns to StateUnloaded.
func (c *Control) Detach() {
	c.rt.mu.Lock()
	c.rt.host = nil
	c.rt.handles = nil
	c.rt.state = StateUnloaded
	c.rt.mu.Unlock()
}
