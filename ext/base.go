package ext

import (
	"context"
	"errors"
	"sync"

	"github.com/latchkit/latch/hook"
)

// ErrNotAttached is returned when an extension uses its Base before the
// runtime has attached it (or after it was detached at unload).
var ErrNotAttached = errors.New("ext: extension is not attached to a runtime")

// Host is the narrow runtime surface a bound extension sees. The runtime
// provides one per instance; subscriptions made through it are owned by
// that instance.
type Host interface {
	Subscribe(name hook.Name, cb hook.Callback, priority hook.Priority) (hook.Handle, error)
	Unsubscribe(h hook.Handle) bool
	LoadConfig(ctx context.Context) (map[string]any, error)
	SaveConfig(ctx context.Context, cfg map[string]any) error
}

// runtimeState is the per-instance block shared between Base (the
// extension's view) and Control (the runtime's view).
type runtimeState struct {
	mu      sync.RWMutex
	meta    Metadata
	state   State
	host    Host
	config  map[string]any
	handles []hook.Handle
}

// Base carries an extension's binding to its runtime. Embed it:
//
//	type Greeter struct {
//	    ext.Base
//	}
//
// The zero value is ready; the runtime fills it in at load.
type Base struct {
	rt runtimeState
}

func (b *Base) runtime() *runtimeState { return &b.rt }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.rt.mu.RLock()
	defer b.rt.mu.RUnlock()
	return b.rt.state
}

// IsEnabled reports whether the extension is currently enabled.
func (b *Base) IsEnabled() bool { return b.State() == StateEnabled }

// Subscribe registers a hook callback owned by this extension and tracks
// the returned handle so the runtime can clean up at unload. It fails
// with ErrNotAttached unless the runtime recognizes the extension as
// currently loaded.
func (b *Base) Subscribe(name hook.Name, cb hook.Callback, priority hook.Priority) (hook.Handle, error) {
	b.rt.mu.RLock()
	host := b.rt.host
	b.rt.mu.RUnlock()
	if host == nil {
		return hook.Handle{}, ErrNotAttached
	}

	h, err := host.Subscribe(name, cb, priority)
	if err != nil {
		return hook.Handle{}, err
	}

	b.rt.mu.Lock()
	b.rt.handles = append(b.rt.handles, h)
	b.rt.mu.Unlock()
	return h, nil
}

// Unsubscribe removes a subscription previously made through Subscribe.
func (b *Base) Unsubscribe(h hook.Handle) bool {
	b.rt.mu.RLock()
	host := b.rt.host
	b.rt.mu.RUnlock()
	if host == nil {
		return false
	}

	ok := host.Unsubscribe(h)
	if ok {
		b.rt.mu.Lock()
		for i, held := range b.rt.handles {
			if held == h {
				b.rt.handles = append(b.rt.handles[:i:i], b.rt.handles[i+1:]...)
				break
			}
		}
		b.rt.mu.Unlock()
	}
	return ok
}

// ConfigValue returns one config value, or def if absent.
func (b *Base) ConfigValue(key string, def any) any {
	b.rt.mu.RLock()
	defer b.rt.mu.RUnlock()
	if v, ok := b.rt.config[key]; ok {
		return v
	}
	return def
}

// SetConfigValue sets one config value in the in-memory blob. Call
// SaveConfig to persist.
func (b *Base) SetConfigValue(key string, value any) {
	b.rt.mu.Lock()
	defer b.rt.mu.Unlock()
	if b.rt.config == nil {
		b.rt.config = make(map[string]any)
	}
	b.rt.config[key] = value
}

// Config returns a copy of the extension's config blob.
func (b *Base) Config() map[string]any {
	b.rt.mu.RLock()
	defer b.rt.mu.RUnlock()
	out := make(map[string]any, len(b.rt.config))
	for k, v := range b.rt.config {
		out[k] = v
	}
	return out
}

// LoadConfig replaces the in-memory blob with the persisted one.
func (b *Base) LoadConfig(ctx context.Context) (map[string]any, error) {
	b.rt.mu.RLock()
	host := b.rt.host
	b.rt.mu.RUnlock()
	if host == nil {
		return nil, ErrNotAttached
	}

	cfg, err := host.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	b.rt.mu.Lock()
	b.rt.config = cfg
	b.rt.mu.Unlock()
	return cfg, nil
}

// SaveConfig persists the current in-memory blob.
func (b *Base) SaveConfig(ctx context.Context) error {
	b.rt.mu.RLock()
	host := b.rt.host
	cfg := make(map[string]any, len(b.rt.config))
	for k, v := range b.rt.config {
		cfg[k] = v
	}
	b.rt.mu.RUnlock()
	if host == nil {
		return ErrNotAttached
	}
	return host.SaveConfig(ctx, cfg)
}
