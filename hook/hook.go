package hook

import "context"

// Name identifies an extension point. Hosts define their own names; the
// constants below are the runtime-level hooks every host has.
type Name string

// Runtime-level hooks.
const (
	// AppStart fires after the host finishes initialization.
	AppStart Name = "app.start"

	// AppShutdown fires when the host begins its shutdown sequence.
	AppShutdown Name = "app.shutdown"

	// Custom is a free-form hook for extension-to-extension events.
	// The event name travels in the context payload.
	Custom Name = "custom"
)

// Priority orders subscribers on one hook. Lower values run first; ties
// run in registration order.
type Priority int

// Named priority levels.
const (
	Highest Priority = 0
	High    Priority = 25
	Normal  Priority = 50
	Low     Priority = 75
	Lowest  Priority = 100

	// Monitor runs after everything else. Monitor subscribers should
	// observe, not mutate.
	Monitor Priority = 999
)

// Result is what a callback returns to steer the dispatch chain.
type Result int

const (
	// Continue lets the chain proceed. The zero value, and what an
	// erroring callback is normalized to.
	Continue Result = iota

	// Modified signals that the callback changed the context payload.
	// Advisory for the dispatching host; the chain proceeds.
	Modified

	// Skip stops the remaining subscribers without cancelling the
	// operation the hook guards.
	Skip

	// Abort stops the remaining subscribers and sets the context's
	// cancellation flag.
	Abort
)

// String returns the result name for logs.
func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Modified:
		return "modified"
	case Skip:
		return "skip"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Callback is a hook subscriber. It receives the shared per-dispatch
// Context and returns a Result steering the chain. A returned error is a
// callback failure: it is logged, recorded as Continue, and does not stop
// the chain.
type Callback func(ctx context.Context, hc *Context) (Result, error)

// Owner is the Bus's view of a subscribing extension. Subscriptions whose
// owner is not enabled are skipped at dispatch time.
type Owner interface {
	Name() string
	Enabled() bool
}
