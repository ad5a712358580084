package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/logfields"
)

// ChangeFunc receives the sorted set of paths that changed during one
// debounce window.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher monitors directories and reports debounced changes to the paths
// accepted by its match function.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dirs     []string
	match    func(path string) bool
	onChange ChangeFunc
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher starts watching dirs. Directories are watched rather than files
// so editors that replace files by rename are still seen. Events are delivered
// once Run is called.
func NewWatcher(dirs []string, debounce time.Duration, match func(string) bool, onChange ChangeFunc) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to create file watcher").Build()
	}
	abs := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		p, err := filepath.Abs(dir)
		if err != nil {
			_ = w.Close()
			return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to resolve watch path").
				WithContext("path", dir).
				Build()
		}
		if slices.Contains(abs, p) {
			continue
		}
		if err := w.Add(p); err != nil {
			_ = w.Close()
			return nil, ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to watch directory").
				WithContext("path", p).
				Build()
		}
		slog.Debug("Watching directory", logfields.Path(p))
		abs = append(abs, p)
	}
	return &Watcher{
		watcher:  w,
		dirs:     abs,
		match:    match,
		onChange: onChange,
		debounce: debounce,
		pending:  make(map[string]struct{}),
	}, nil
}

// Run dispatches events until ctx is done. The fsnotify watcher is closed on
// return.
func (w *Watcher) Run(ctx context.Context) {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil || !w.match(path) {
				continue
			}
			slog.Debug("Input change detected", logfields.Path(path), slog.String("op", event.Op.String()))
			w.schedule(ctx, path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

// schedule records path and restarts the debounce timer.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	w.timer = nil
	w.mu.Unlock()

	if len(paths) == 0 || ctx.Err() != nil {
		return
	}
	slices.Sort(paths)
	w.onChange(ctx, paths)
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if err := w.watcher.Close(); err != nil {
		slog.Error("Error closing file watcher", logfields.Error(err))
	}
}
