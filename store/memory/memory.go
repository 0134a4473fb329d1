// Package memory implements store.Store fully in memory. Safe for
// concurrent access. Intended for unit testing and embedded hosts that
// don't need persistence across restarts.
package memory

import (
	"context"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/latchkit/latch/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the in-memory backend.
type Store struct {
	configs cmap.ConcurrentMap[string, map[string]any]

	mu      sync.Mutex
	enabled []string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{configs: cmap.New[map[string]any]()}
}

// GetConfig returns a copy of the blob for name, or an empty map.
func (s *Store) GetConfig(_ context.Context, name string) (map[string]any, error) {
	cfg, ok := s.configs.Get(name)
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, nil
}

// SetConfig stores a copy of the blob for name.
func (s *Store) SetConfig(_ context.Context, name string, cfg map[string]any) error {
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	s.configs.Set(name, cp)
	return nil
}

// EnabledSet returns the saved enabled set.
func (s *Store) EnabledSet(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.enabled...), nil
}

// SaveEnabledSet replaces the saved enabled set.
func (s *Store) SaveEnabledSet(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = append([]string(nil), names...)
	return nil
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
