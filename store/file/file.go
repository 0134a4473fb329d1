// Package file implements store.Store as JSON files in a directory: one
// <name>.json blob per extension plus _enabled.json for the enabled set.
//
// The filesystem is an afero.Fs, so hosts can point the store at an
// in-memory fs in tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/latchkit/latch/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// ErrBadName is returned for extension names that cannot be used as file
// names.
var ErrBadName = errors.New("file: extension name is not filesystem-safe")

// enabledFile holds the persisted enabled set. The leading underscore
// keeps it out of the per-extension namespace.
const enabledFile = "_enabled.json"

// Option configures the Store.
type Option func(*Store)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) { s.fs = fsys }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the directory-of-JSON-files backend.
type Store struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// New creates a file store rooted at dir. The directory is created on
// first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs(), dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetConfig reads <name>.json, returning an empty map if absent.
func (s *Store) GetConfig(_ context.Context, name string) (map[string]any, error) {
	path, err := s.configPath(name)
	if err != nil {
		return nil, err
	}

	raw, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read config %s: %w", name, err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("file: decode config %s: %w", name, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// SetConfig writes <name>.json.
func (s *Store) SetConfig(_ context.Context, name string, cfg map[string]any) error {
	path, err := s.configPath(name)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file: create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode config %s: %w", name, err)
	}
	if err := afero.WriteFile(s.fs, path, raw, 0o644); err != nil {
		return fmt.Errorf("file: write config %s: %w", name, err)
	}
	return nil
}

// EnabledSet reads _enabled.json, returning nil if absent.
func (s *Store) EnabledSet(_ context.Context) ([]string, error) {
	raw, err := afero.ReadFile(s.fs, filepath.Join(s.dir, enabledFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read enabled set: %w", err)
	}

	var rec struct {
		Enabled []string `json:"enabled"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("file: decode enabled set: %w", err)
	}
	return rec.Enabled, nil
}

// SaveEnabledSet writes _enabled.json.
func (s *Store) SaveEnabledSet(_ context.Context, names []string) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file: create config dir: %w", err)
	}

	rec := struct {
		Enabled []string `json:"enabled"`
	}{Enabled: names}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode enabled set: %w", err)
	}
	if err := afero.WriteFile(s.fs, filepath.Join(s.dir, enabledFile), raw, 0o644); err != nil {
		return fmt.Errorf("file: write enabled set: %w", err)
	}
	return nil
}

// Ping verifies the directory is usable.
func (s *Store) Ping(_ context.Context) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file: config dir unusable: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error { return nil }

func (s *Store) configPath(name string) (string, error) {
	if name == "" || name == enabledFile ||
		strings.ContainsAny(name, `/\`) || name != filepath.Base(name) ||
		strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}
