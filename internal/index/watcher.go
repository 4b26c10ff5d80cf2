package index

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"selfforge/internal/logging"
)

// Watcher keeps the store in sync with edits made outside the patch engine
// (an operator touching the tree in an editor). Patch-engine writes also pass
// through here; re-indexing the same content is harmless.
type Watcher struct {
	scanner *Scanner
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewWatcher creates a watcher over the scanner's roots.
func NewWatcher(scanner *Scanner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{scanner: scanner, fsw: fsw, done: make(chan struct{})}, nil
}

// Start registers the source roots (recursively) and begins processing
// events on a background goroutine. Safe to call once.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	for _, root := range w.scanner.roots {
		absRoot := filepath.Join(w.scanner.workspace, root)
		err := filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				name := info.Name()
				if name != "." && name != filepath.Base(absRoot) && (strings.HasPrefix(name, ".") || name == "node_modules") {
					return filepath.SkipDir
				}
				return w.fsw.Add(path)
			}
			return nil
		})
		if err != nil {
			logging.Get(logging.CategoryIndex).Warn("watch setup failed for %s: %v", root, err)
		}
	}

	w.started = true
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryIndex).Warn("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name

	// New directories need to be watched too
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			_ = w.fsw.Add(path)
			return
		}
	}

	if !w.scanner.IsSourcePath(path) {
		return
	}

	rel, err := filepath.Rel(w.scanner.workspace, path)
	if err != nil {
		rel = path
	}

	switch {
	case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
		w.scanner.store.Delete(rel)
		logging.IndexDebug("watcher dropped %s", rel)
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create):
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		w.scanner.store.Put(rel, string(data))
		logging.IndexDebug("watcher refreshed %s", rel)
	}
}

// Close stops event processing and releases the underlying watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}
