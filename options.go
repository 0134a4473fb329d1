package latch

import (
	"log/slog"

	"github.com/latchkit/latch/store"
)

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets the structured logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for config blobs and the
// enabled set. Defaults to the in-memory store.
func WithStore(s store.Store) Option {
	return func(m *Manager) error {
		m.store = s
		return nil
	}
}

// WithSource adds a discovery source. May be given multiple times;
// Discover walks sources in the order they were added.
func WithSource(src Source) Option {
	return func(m *Manager) error {
		m.sources = append(m.sources, src)
		return nil
	}
}

// WithConfig sets the manager configuration directly.
func WithConfig(cfg Config) Option {
	return func(m *Manager) error {
		m.cfg = cfg
		return nil
	}
}

// WithPoolSize enables DispatchAsync on a worker pool of the given size.
func WithPoolSize(n int) Option {
	return func(m *Manager) error {
		m.cfg.PoolSize = n
		return nil
	}
}
