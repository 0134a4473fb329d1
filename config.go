package latch

import "time"

// Config holds configuration for a Manager.
type Config struct {
	// PoolSize is the worker pool size for DispatchAsync. Zero disables
	// async dispatch.
	PoolSize int

	// RestoreEnabled re-enables the extensions persisted as enabled at
	// last shutdown when Start runs.
	RestoreEnabled bool

	// WatchDebounce is how long Watch waits after a unit changes on disk
	// before reloading it, so editors writing in several steps trigger
	// one reload.
	WatchDebounce time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:       0,
		RestoreEnabled: true,
		WatchDebounce:  500 * time.Millisecond,
	}
}
