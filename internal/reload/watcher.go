package reload

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Event reports a change to one watched file.
type Event struct {
	Path string
	Op   string
}

// Watcher delivers change events for an explicit set of files.
type Watcher interface {
	// Sync replaces the watched set with paths.
	Sync(paths []string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// FSWatcher watches files through their parent directories, which keeps
// a watch alive across editors that save by rename. Events for files
// outside the current set are discarded.
type FSWatcher struct {
	fw *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}

	events    chan Event
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
}

func NewFSWatcher() (*FSWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &FSWatcher{
		fw:     fw,
		files:  map[string]struct{}{},
		dirs:   map[string]struct{}{},
		events: make(chan Event),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	go w.forward()
	return w, nil
}

func (w *FSWatcher) Sync(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		files[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}

	var errs []error
	for d := range dirs {
		if _, ok := w.dirs[d]; ok {
			continue
		}
		if err := w.fw.Add(d); err != nil {
			errs = append(errs, fmt.Errorf("failed to watch '%s': %w", d, err))
			delete(dirs, d)
		}
	}
	for d := range w.dirs {
		if _, ok := dirs[d]; !ok {
			// The directory may already be gone, in which case the watch is too.
			_ = w.fw.Remove(d)
		}
	}

	w.files, w.dirs = files, dirs
	return errors.Join(errs...)
}

func (w *FSWatcher) Events() <-chan Event {
	return w.events
}

func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

func (w *FSWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}

func (w *FSWatcher) watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[filepath.Clean(path)]
	return ok
}

func (w *FSWatcher) forward() {
	for {
		select {
		case <-w.done:
			return

		case fe, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if fe.Op == fsnotify.Chmod || !w.watching(fe.Name) {
				continue
			}
			select {
			case w.events <- Event{Path: fe.Name, Op: fe.Op.String()}:
			case <-w.done:
				return
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}
