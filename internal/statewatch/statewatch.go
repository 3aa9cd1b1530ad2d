// Package statewatch tails the persisted project state file and delivers
// each new revision to followers (status --follow, the dashboard). Writes
// land via rename, so the watcher observes the state directory rather than
// the file itself.
package statewatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/state"
)

// DefaultDebounce coalesces bursts of writes into one reload.
const DefaultDebounce = 100 * time.Millisecond

// Watcher delivers project state revisions as they are persisted. The
// updates channel holds only the latest revision: slow consumers see the
// newest state, not every intermediate one.
type Watcher struct {
	store    *state.Store
	watcher  *fsnotify.Watcher
	updates  chan *state.ProjectState
	stop     chan struct{}
	debounce time.Duration
	logger   *logging.Logger
}

// New creates a watcher for the project's state file. debounce <= 0 takes
// DefaultDebounce.
func New(projectPath string, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	store, err := state.NewStore(projectPath)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	return &Watcher{
		store:    store,
		watcher:  fsw,
		updates:  make(chan *state.ProjectState, 1),
		stop:     make(chan struct{}),
		debounce: debounce,
		logger:   logger.Named("statewatch"),
	}, nil
}

// Start watches the state directory and begins delivering revisions. The
// current revision, when one exists, is delivered immediately.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if st, err := w.store.Load(); err == nil {
		w.deliver(st)
	} else if !errors.Is(err, state.ErrNotFound) {
		w.logger.Warn(ctx, "initial state load failed", zap.Error(err))
	}

	go w.loop(ctx)
	return nil
}

// Updates returns the revision channel. It is never closed; stop conditions
// are the watcher's Stop or the Start context ending.
func (w *Watcher) Updates() <-chan *state.ProjectState {
	return w.updates
}

// Stop ends watching and releases the filesystem watcher. Safe to call more
// than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	var flush <-chan time.Time
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			// Each event pushes the reload out by the debounce window, so a
			// burst of writes produces one delivery.
			flush = time.After(w.debounce)
		case <-flush:
			flush = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "state watcher error", zap.Error(err))
		}
	}
}

// relevant matches writes, creates, and renames of the state file. Atomic
// saves surface as a create of the destination name.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != filepath.Base(w.store.Path()) {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload(ctx context.Context) {
	st, err := w.store.Load()
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			w.logger.Warn(ctx, "state reload failed", zap.Error(err))
		}
		return
	}
	w.deliver(st)
}

// deliver replaces a stale undelivered revision with the new one.
func (w *Watcher) deliver(st *state.ProjectState) {
	for {
		select {
		case w.updates <- st:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}
