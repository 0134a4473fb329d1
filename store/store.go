// Package store defines the persistence interface for latch: per-extension
// config blobs plus the single record of which extensions were enabled at
// last shutdown. Backends: Memory, File, Redis, and Postgres.
package store

import "context"

// Store is the persistence collaborator of a latch runtime. The runtime
// treats it as an opaque capability; config blobs are owned by their
// extension and keyed by extension name.
//
// GetConfig returns an empty map, not an error, when no blob exists for
// the name. EnabledSet read failures should be treated as "empty" by
// callers — startup restore degrades gracefully.
type Store interface {
	// GetConfig returns the config blob for an extension.
	GetConfig(ctx context.Context, name string) (map[string]any, error)

	// SetConfig persists the config blob for an extension.
	SetConfig(ctx context.Context, name string, cfg map[string]any) error

	// EnabledSet returns the extension names enabled at last shutdown.
	EnabledSet(ctx context.Context) ([]string, error)

	// SaveEnabledSet replaces the persisted enabled set.
	SaveEnabledSet(ctx context.Context, names []string) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
