package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current UI snapshot. A reload builds a complete new
// snapshot and swaps it atomically; readers holding an earlier snapshot keep
// a consistent view for their in-flight work.
type Store struct {
	dir     string
	current atomic.Pointer[UI]
	logger  *slog.Logger
}

// NewStore creates a store rooted at dir and performs the initial load. If
// the directory holds no documents the store starts from defaults.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	s := &Store{dir: dir, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current immutable UI snapshot. Callers must not
// mutate it.
func (s *Store) Snapshot() *UI { return s.current.Load() }

// Reload re-reads both documents and swaps the snapshot. On error the
// previous snapshot stays in place.
func (s *Store) Reload() error {
	ui, err := LoadUI(s.dir)
	if err != nil {
		return err
	}
	s.current.Store(ui)
	if s.logger != nil {
		s.logger.Info("ui config loaded", "dir", s.dir,
			"desktop_version", ui.Desktop.Version, "game_version", ui.Game.Version)
	}
	return nil
}

const watchDebounce = 250 * time.Millisecond

// Watch reloads the store whenever a document in its directory changes.
// Events are debounced; reload failures are logged and the previous snapshot
// remains active. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.dir); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if name != DesktopDocName && name != GameDocName {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if s.logger != nil {
				s.logger.Warn("ui config watcher error", "error", err)
			}
		case <-reload:
			if err := s.Reload(); err != nil && s.logger != nil {
				s.logger.Warn("ui config reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
