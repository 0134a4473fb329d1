package ext

import "context"

// State is the lifecycle state of a loaded extension instance.
type State int

const (
	// StateUnloaded is the state before load and after unload.
	StateUnloaded State = iota

	// StateLoaded means OnLoad succeeded; the instance is registered but
	// not participating in hook dispatch.
	StateLoaded

	// StateEnabled means the extension actively receives hook
	// notifications.
	StateEnabled

	// StateDisabled means participation is paused without releasing the
	// resources acquired in OnLoad.
	StateDisabled

	// StateError is the quarantine state after a failed transition.
	// Only unload leaves it.
	StateError
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Metadata is the identity of an extension. Name is the sole external
// key and must be unique across the runtime; Dependencies lists the
// extensions that must be present and enabled before this one may enable.
// Identity is immutable once the instance exists.
type Metadata struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Author       string   `json:"author,omitempty"`
	Description  string   `json:"description,omitempty"`
	Homepage     string   `json:"homepage,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// Extension is the contract every extension implements.
//
// Implementations must embed Base; the unexported runtime method makes
// that a compile-time requirement.
type Extension interface {
	// Metadata returns the extension's identity. It must be stable for
	// the lifetime of the instance.
	Metadata() Metadata

	// OnLoad performs one-time setup: loading config, registering hook
	// subscriptions. A returned error aborts the load; the instance
	// never reaches the registry and is discarded.
	OnLoad(ctx context.Context) error

	// OnEnable activates participation in hook dispatch. An error moves
	// the instance to StateError; no rollback of the extension's own
	// state is attempted.
	OnEnable(ctx context.Context) error

	// OnDisable pauses participation without releasing resources. It
	// cannot block the transition: even a panic still leaves the
	// extension disabled.
	OnDisable(ctx context.Context)

	// OnUnload is best-effort teardown. It must be safe even after a
	// partial OnLoad. The runtime removes all remaining hook
	// subscriptions before this runs, so no new notification arrives
	// once OnUnload begins.
	OnUnload(ctx context.Context)

	runtime() *runtimeState
}
