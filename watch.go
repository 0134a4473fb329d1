package latch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// dirSource is satisfied by sources backed by a directory of units.
// SharedObjectSource is one.
type dirSource interface {
	Dir() string
}

type watchState struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// Watch starts a filesystem watcher over every directory-backed source
// and hot-reloads an extension when its unit changes on disk. Events are
// debounced by Config.WatchDebounce. The watcher stops when ctx is
// cancelled or the manager stops.
func (m *Manager) Watch(ctx context.Context) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if m.watcher != nil {
		return ErrAlreadyWatching
	}

	var dirs []string
	for _, src := range m.sources {
		if ds, ok := src.(dirSource); ok {
			dirs = append(dirs, ds.Dir())
		}
	}
	if len(dirs) == 0 {
		return ErrNoWatch
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("latch: start watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return fmt.Errorf("latch: watch %s: %w", dir, err)
		}
	}

	ws := &watchState{w: w, done: make(chan struct{})}
	m.watcher = ws
	go m.watchLoop(ctx, ws)

	m.logger.Info("watching for unit changes", slog.Int("dirs", len(dirs)))
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, ws *watchState) {
	defer close(ws.done)

	timers := make(map[string]*time.Timer)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ws.w.Events:
			if !ok {
				return
			}
			if filepath.Ext(evt.Name) != ".so" {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			unit := evt.Name
			if t, exists := timers[unit]; exists {
				t.Reset(m.cfg.WatchDebounce)
			} else {
				timers[unit] = time.AfterFunc(m.cfg.WatchDebounce, func() {
					m.reloadUnit(unit)
				})
			}
		case err, ok := <-ws.w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

// reloadUnit reloads the extension loaded from the given unit path, if
// any. A changed unit nothing was loaded from is ignored; it will be
// picked up by the next Discover.
func (m *Manager) reloadUnit(unit string) {
	for name, inst := range m.plugins.Items() {
		if inst.unit != unit {
			continue
		}
		if err := m.Reload(context.Background(), name); err != nil {
			m.logger.Error("hot reload failed",
				slog.String("extension", name),
				slog.String("unit", unit),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	m.logger.Debug("changed unit has no loaded extension", slog.String("unit", unit))
}

func (m *Manager) stopWatch() {
	m.wmu.Lock()
	ws := m.watcher
	m.watcher = nil
	m.wmu.Unlock()
	if ws == nil {
		return
	}
	_ = ws.w.Close()
	<-ws.done
}
