package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ErrNoPool is returned by DispatchAsync when the bus was built without a
// worker pool.
var ErrNoPool = errors.New("hook: async dispatch requires a worker pool")

// Handle identifies one subscription. It is returned by Subscribe and
// presented back to Unsubscribe; extensions keep their handles instead of
// a back-reference into the bus.
type Handle struct {
	id   uuid.UUID
	hook Name
}

// Hook returns the hook name the handle subscribes to.
func (h Handle) Hook() Name { return h.hook }

// Valid reports whether the handle came from a Subscribe call.
func (h Handle) Valid() bool { return h.id != uuid.Nil }

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s", h.hook, h.id)
}

// subscription is one (hook, owner, callback, priority) registration.
// The bus exclusively owns these entries.
type subscription struct {
	handle   Handle
	owner    Owner
	callback Callback
	priority Priority
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger for the bus.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithPoolSize enables DispatchAsync on a worker pool of the given size.
// Zero or negative leaves async dispatch disabled.
func WithPoolSize(n int) Option {
	return func(b *Bus) { b.poolSize = n }
}

// Bus is the per-hook-name subscription registry and dispatcher.
// Subscribe/Unsubscribe may be called concurrently with in-flight
// dispatches; dispatch iterates a snapshot taken at start.
type Bus struct {
	mu   sync.RWMutex
	subs map[Name][]*subscription

	// inflight serializes dispatches per hook name. Different hook names
	// may dispatch concurrently; the same name never interleaves.
	inflight map[Name]*sync.Mutex

	logger   *slog.Logger
	poolSize int
	pool     *ants.Pool
}

// NewBus creates a bus.
func NewBus(opts ...Option) (*Bus, error) {
	b := &Bus{
		subs:     make(map[Name][]*subscription),
		inflight: make(map[Name]*sync.Mutex),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.poolSize > 0 {
		pool, err := ants.NewPool(b.poolSize)
		if err != nil {
			return nil, fmt.Errorf("hook: create dispatch pool: %w", err)
		}
		b.pool = pool
	}
	return b, nil
}

// Close releases the async dispatch pool, if any.
func (b *Bus) Close() error {
	if b.pool != nil {
		b.pool.Release()
	}
	return nil
}

// Subscribe registers a callback on a hook and returns its handle.
//
// The list for the hook stays sorted by ascending priority; equal
// priorities keep registration order. Registering the same (owner,
// callback) pair twice yields two independent entries — the bus does not
// deduplicate.
func (b *Bus) Subscribe(name Name, owner Owner, cb Callback, priority Priority) Handle {
	s := &subscription{
		handle:   Handle{id: uuid.New(), hook: name},
		owner:    owner,
		callback: cb,
		priority: priority,
	}

	b.mu.Lock()
	list := append(b.subs[name], s)
	// Stable sort after append preserves registration order among equal
	// priorities.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	b.subs[name] = list
	b.mu.Unlock()

	b.logger.Debug("hook subscribed",
		slog.String("hook", string(name)),
		slog.String("extension", owner.Name()),
		slog.Int("priority", int(priority)),
	)
	return s.handle
}

// Unsubscribe removes the subscription for the given handle. It returns
// false if the handle is unknown; calling it again for an already-removed
// subscription is safe.
func (b *Bus) Unsubscribe(h Handle) bool {
	if !h.Valid() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[h.hook]
	for i, s := range list {
		if s.handle.id == h.id {
			b.subs[h.hook] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// UnsubscribeOwner removes every subscription held by owner, across all
// hooks, and returns how many were removed. The runtime calls this before
// an extension unloads so no notification arrives after OnUnload begins.
func (b *Bus) UnsubscribeOwner(owner Owner) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for name, list := range b.subs {
		kept := list[:0:0]
		for _, s := range list {
			if s.owner == owner {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		b.subs[name] = kept
	}
	return removed
}

// Count returns the number of subscriptions on a hook.
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Subscribers returns the owner names subscribed to a hook, in dispatch
// order. Owners with several subscriptions appear once per entry.
func (b *Bus) Subscribers(name Name) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subs[name]))
	for _, s := range b.subs[name] {
		out = append(out, s.owner.Name())
	}
	return out
}

// Dispatch runs the notification protocol for hc.Hook and returns hc.
//
// Subscribers run in priority order. Entries whose owner is not enabled
// are skipped. Before each invocation the cancellation flag is checked;
// once set, the rest of the chain does not run. Abort cancels and stops,
// Skip stops without cancelling, Continue and Modified proceed. A callback
// error or panic is logged, recorded as Continue, and the chain continues.
//
// Cancellation of ctx is honored between subscribers only; an
// already-running callback is never interrupted.
func (b *Bus) Dispatch(ctx context.Context, hc *Context) *Context {
	mu := b.dispatchLock(hc.Hook)
	mu.Lock()
	defer mu.Unlock()

	b.mu.RLock()
	snapshot := append([]*subscription(nil), b.subs[hc.Hook]...)
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return hc
	}

	for _, s := range snapshot {
		if !s.owner.Enabled() {
			continue
		}
		if hc.Cancelled() {
			break
		}
		if err := ctx.Err(); err != nil {
			hc.Cancel()
			b.logger.Debug("hook dispatch cancelled",
				slog.String("hook", string(hc.Hook)),
				slog.String("error", err.Error()),
			)
			break
		}

		result, err := b.invoke(ctx, s, hc)
		if err != nil {
			b.logger.Error("hook callback error",
				slog.String("hook", string(hc.Hook)),
				slog.String("extension", s.owner.Name()),
				slog.String("error", err.Error()),
			)
			result = Continue
		}
		hc.setResult(s.owner.Name(), result)

		if result == Abort {
			hc.Cancel()
			break
		}
		if result == Skip {
			break
		}
	}
	return hc
}

// DispatchAsync runs Dispatch on the bus's worker pool and calls done, if
// non-nil, with the finished context.
func (b *Bus) DispatchAsync(ctx context.Context, hc *Context, done func(*Context)) error {
	if b.pool == nil {
		return ErrNoPool
	}
	return b.pool.Submit(func() {
		out := b.Dispatch(ctx, hc)
		if done != nil {
			done(out)
		}
	})
}

// invoke runs one callback, converting a panic into an error so a faulty
// subscriber never takes down the dispatch chain.
func (b *Bus) invoke(ctx context.Context, s *subscription, hc *Context) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook callback panicked",
				slog.String("hook", string(hc.Hook)),
				slog.String("extension", s.owner.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = Continue
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.callback(ctx, hc)
}

func (b *Bus) dispatchLock(name Name) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	mu, ok := b.inflight[name]
	if !ok {
		mu = &sync.Mutex{}
		b.inflight[name] = mu
	}
	return mu
}
