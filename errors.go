package latch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Not found errors.
	ErrExtensionNotFound = errors.New("latch: extension not found")
	ErrSourceNotFound    = errors.New("latch: discovery source not found")
	ErrUnitNotFound      = errors.New("latch: unit not found in source")

	// Load errors.
	ErrLoadFailed    = errors.New("latch: extension load failed")
	ErrEmptyName     = errors.New("latch: extension has no name")
	ErrDuplicateUnit = errors.New("latch: unit already registered")
	ErrBadFactory    = errors.New("latch: unit does not expose a valid factory")

	// State errors.
	ErrInvalidState = errors.New("latch: invalid state transition")
	ErrDependency   = errors.New("latch: dependency not satisfied")

	// Watch errors.
	ErrNoWatch         = errors.New("latch: no watchable source configured")
	ErrAlreadyWatching = errors.New("latch: watch already running")
)

// Phase names the lifecycle step a failure happened in.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseLoad      Phase = "load"
	PhaseEnable    Phase = "enable"
	PhaseDisable   Phase = "disable"
	PhaseUnload    Phase = "unload"
	PhaseReload    Phase = "reload"
)

// Record is one entry in the manager's error log. Every failure local to
// an extension lands here with enough context to diagnose it; nothing is
// silently swallowed.
type Record struct {
	// Extension is the extension name, when known.
	Extension string

	// Unit identifies the discovery unit for failures before an
	// extension name exists.
	Unit string

	// Phase is the lifecycle step that failed.
	Phase Phase

	// Err is the underlying error.
	Err error

	// Time is when the failure was recorded.
	Time time.Time
}

func (r Record) String() string {
	who := r.Extension
	if who == "" {
		who = r.Unit
	}
	return fmt.Sprintf("%s %s: %v", r.Phase, who, r.Err)
}
