package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when adding paths to a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// DefaultIgnore lists directories that tools write into and that are never
// build inputs.
var DefaultIgnore = []string{".git", "elm-stuff", "node_modules"}

// FSWatcher reports changes below a set of base directories using fsnotify.
// Directories created under a watched directory are picked up automatically.
type FSWatcher struct {
	mu sync.Mutex

	root    string
	bases   []string
	ignore  []string
	watcher *fsnotify.Watcher
	paths   map[string]bool

	events chan ChangeEvent
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

type WatcherOption func(*FSWatcher)

// WithIgnore skips the given directories, relative to root, and everything
// below them. Build destinations belong here so that writing output does not
// trigger another build.
func WithIgnore(dirs ...string) WatcherOption {
	return func(w *FSWatcher) {
		for _, d := range dirs {
			if d == "" {
				continue
			}
			w.ignore = append(w.ignore, cleanRel(d))
		}
	}
}

// NewFSWatcher watches every directory below each of bases, which are
// relative to root, plus the directories leading down to them. Bases that do
// not exist yet are picked up when they are created.
func NewFSWatcher(root string, bases []string, opts ...WatcherOption) (*FSWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSWatcher{
		root:    absRoot,
		watcher: fsw,
		paths:   make(map[string]bool),
		events:  make(chan ChangeEvent, 100),
		errors:  make(chan error, 100),
		closeCh: make(chan struct{}),
	}
	for _, b := range bases {
		w.bases = append(w.bases, cleanRel(b))
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.addTree(absRoot); err != nil {
		fsw.Close()
		return nil, err
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// Events returns the change channel. It is closed by Close.
func (w *FSWatcher) Events() <-chan ChangeEvent { return w.events }

// Errors returns the error channel. It is closed by Close.
func (w *FSWatcher) Errors() <-chan error { return w.errors }

func (w *FSWatcher) WatchedPaths() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paths)
}

// Close stops the watcher and closes its channels.
func (w *FSWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.closedWg.Wait()
	close(w.events)
	close(w.errors)
	return w.watcher.Close()
}

func (w *FSWatcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.paths[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.paths[dir] = true
	return nil
}

// addTree watches dir and the directories below it that lead to or sit
// under a base.
func (w *FSWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if !w.watchable(w.rel(p)) {
			return filepath.SkipDir
		}
		if err := w.add(p); err != nil {
			w.sendError(err)
		}
		return nil
	})
}

func (w *FSWatcher) watchable(rel string) bool {
	if w.ignored(rel) {
		return false
	}
	if rel == "." {
		return true
	}
	for _, b := range w.bases {
		if within(rel, b) || within(b, rel) {
			return true
		}
	}
	return false
}

func (w *FSWatcher) ignored(rel string) bool {
	for _, dir := range w.ignore {
		if within(rel, dir) {
			return true
		}
	}
	return false
}

func (w *FSWatcher) rel(p string) string {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

// within reports whether rel is dir or lies below it.
func within(rel, dir string) bool {
	if dir == "." {
		return true
	}
	return rel == dir || strings.HasPrefix(rel, dir+"/")
}

func cleanRel(p string) string {
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
}

func (w *FSWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *FSWatcher) handle(ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if w.ignored(rel) {
		return
	}
	if ev.Has(fsnotify.Create) && w.watchable(rel) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.sendError(err)
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.paths, ev.Name)
		w.mu.Unlock()
	}

	select {
	case w.events <- ChangeEvent{Path: rel, Op: convertOp(ev.Op)}:
	case <-w.closeCh:
	}
}

func (w *FSWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func convertOp(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= OpCreate
	}
	if op.Has(fsnotify.Write) {
		out |= OpWrite
	}
	if op.Has(fsnotify.Remove) {
		out |= OpRemove
	}
	if op.Has(fsnotify.Rename) {
		out |= OpRename
	}
	if op.Has(fsnotify.Chmod) {
		out |= OpChmod
	}
	return out
}
