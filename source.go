package latch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/latchkit/latch/ext"
)

// Factory constructs a fresh extension instance. Sources resolve one
// factory per unit; the manager invokes it at load and again at reload.
type Factory func() ext.Extension

// FactorySymbol is the entry point a shared-object unit must export:
//
//	func NewExtension() ext.Extension
//
// Exactly one factory per unit. A unit without it, or with it at the
// wrong type, is a discovery error — there is no fallback scan for
// candidate types.
const FactorySymbol = "NewExtension"

// Source enumerates extension units from some location and resolves each
// to its factory. Failures for one unit are isolated by the caller and do
// not abort the rest of the batch.
type Source interface {
	// Name identifies the source in error records and reload origins.
	Name() string

	// Enumerate returns the unit identifiers in a stable order.
	Enumerate(ctx context.Context) ([]string, error)

	// Load resolves a unit to its factory.
	Load(ctx context.Context, unit string) (Factory, error)
}

// ──────────────────────────────────────────────────
// StaticSource
// ──────────────────────────────────────────────────

// StaticSource holds factories registered in-process. It is the source
// for hosts that compile their extensions in, and for tests.
type StaticSource struct {
	name string

	mu    sync.Mutex
	units map[string]Factory
	order []string
}

// NewStaticSource creates an empty static source.
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name, units: make(map[string]Factory)}
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Register adds a unit with its factory. One factory per unit name;
// registering a unit twice is an error.
func (s *StaticSource) Register(unit string, f Factory) error {
	if f == nil {
		return fmt.Errorf("%w: %s has a nil factory", ErrBadFactory, unit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[unit]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit)
	}
	s.units[unit] = f
	s.order = append(s.order, unit)
	return nil
}

// Enumerate returns units in registration order.
func (s *StaticSource) Enumerate(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// Load returns the registered factory for unit.
func (s *StaticSource) Load(_ context.Context, unit string) (Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.units[unit]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, unit)
	}
	return f, nil
}

// ──────────────────────────────────────────────────
// SharedObjectSource
// ──────────────────────────────────────────────────

// symbolLookup is what an opened unit exposes. *plugin.Plugin satisfies
// it; tests substitute their own opener.
type symbolLookup interface {
	Lookup(symbol string) (plugin.Symbol, error)
}

func openSharedObject(path string) (symbolLookup, error) {
	return plugin.Open(path)
}

// SharedObjectSource discovers extensions built with -buildmode=plugin:
// every *.so file under a directory is one unit, resolved through the
// FactorySymbol entry point. Units must be built against the same build
// of the host.
//
// Enumeration goes through an afero.Fs so it is testable; opening the
// shared object itself always hits the real filesystem.
type SharedObjectSource struct {
	name string
	dir  string
	fs   afero.Fs
	open func(path string) (symbolLookup, error)
}

// SharedObjectOption configures a SharedObjectSource.
type SharedObjectOption func(*SharedObjectSource)

// WithSourceFs sets the filesystem used for enumeration.
func WithSourceFs(fsys afero.Fs) SharedObjectOption {
	return func(s *SharedObjectSource) { s.fs = fsys }
}

// NewSharedObjectSource creates a source over the *.so units in dir.
func NewSharedObjectSource(name, dir string, opts ...SharedObjectOption) *SharedObjectSource {
	s := &SharedObjectSource{
		name: name,
		dir:  dir,
		fs:   afero.NewOsFs(),
		open: openSharedObject,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Source.
func (s *SharedObjectSource) Name() string { return s.name }

// Dir returns the watched directory. Manager.Watch uses it.
func (s *SharedObjectSource) Dir() string { return s.dir }

// Enumerate lists *.so files in the source directory, sorted by name.
// A missing directory yields an empty batch, not an error.
func (s *SharedObjectSource) Enumerate(_ context.Context) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latch: enumerate %s: %w", s.dir, err)
	}

	var units []string
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) != ".so" {
			continue
		}
		units = append(units, filepath.Join(s.dir, info.Name()))
	}
	sort.Strings(units)
	return units, nil
}

// Load opens the shared object and resolves its factory. The symbol may
// be the factory function itself or a Factory-typed variable.
func (s *SharedObjectSource) Load(_ context.Context, unit string) (Factory, error) {
	p, err := s.open(unit)
	if err != nil {
		return nil, fmt.Errorf("latch: open unit %s: %w", unit, err)
	}

	sym, err := p.Lookup(FactorySymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s lacks %s", ErrBadFactory, unit, FactorySymbol)
	}

	switch v := sym.(type) {
	case func() ext.Extension:
		return Factory(v), nil
	case *Factory:
		if *v == nil {
			return nil, fmt.Errorf("%w: %s exports a nil %s", ErrBadFactory, unit, FactorySymbol)
		}
		return *v, nil
	default:
		return nil, fmt.Errorf("%w: %s exports %s with type %T", ErrBadFactory, unit, FactorySymbol, sym)
	}
}
