package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher triggers named reload callbacks when watched paths change.
// Callbacks rebuild their registry atomically and swap a snapshot
// pointer; the watcher itself never mutates subsystem state. Events are
// debounced so editors that write-then-rename fire one reload.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	callbacks map[string]func() // watched path -> reload
	pending   map[string]*time.Timer
}

func NewFileWatcher(logger *slog.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWatcher{
		watcher:   w,
		log:       logger,
		debounce:  250 * time.Millisecond,
		callbacks: make(map[string]func()),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// WatchPath registers reload to run after any write/create/rename under
// path. For a file the parent directory is watched, so atomic
// write-rename updates are seen.
func (w *FileWatcher) WatchPath(path string, reload func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.callbacks[abs] = reload
	w.mu.Unlock()

	dir := filepath.Dir(abs)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	// Directories are also watched directly so files created inside
	// them (new manifests) trigger a reload.
	if err := w.watcher.Add(abs); err != nil {
		w.log.Debug("config: watch target not yet present", "path", abs, "error", err)
	}
	return nil
}

// Run drains fsnotify events until the watcher is closed.
func (w *FileWatcher) Run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.dispatch(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: fsnotify error", "error", err)
		}
	}
}

func (w *FileWatcher) dispatch(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, reload := range w.callbacks {
		if abs != path && filepath.Dir(abs) != path {
			continue
		}
		cb := reload
		if t, ok := w.pending[path]; ok {
			t.Stop()
		}
		w.pending[path] = time.AfterFunc(w.debounce, cb)
	}
}

// Close stops the watcher; Run returns once events drain.
func (w *FileWatcher) Close() error {
	return w.watcher.Close()
}
