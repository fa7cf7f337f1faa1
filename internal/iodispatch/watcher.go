package iodispatch

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/mystral-run/mystral/internal/engine"
)

// ChangeKind narrows an fsnotify op down to the three kinds spec.md §4.3
// promises: {Modified, Renamed, Deleted}.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeRenamed
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeRenamed:
		return "renamed"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

type watchCompletion struct {
	cb     engine.Value
	path   string
	change ChangeKind
}

// Watcher wraps fsnotify to implement watch(path, cb) -> id / unwatch(id)
// (spec.md §4.3), grounded directly on the teacher's
// internal/lua.Engine.watchLoop: a background goroutine select{}-ing over
// watcher.Events/watcher.Errors/a closed-channel shutdown signal, generalized
// from one hardcoded .lua-suffix filter to an arbitrary registered-path set.
type Watcher struct {
	backend engine.Backend
	fs      *fsnotify.Watcher

	mu      sync.Mutex
	entries map[string]watchEntry // id -> entry
	byPath  map[string][]string   // path -> ids watching it

	queue    completionQueue[watchCompletion]
	closed   chan struct{}
	inflight int32 // atomic, events queued but not yet drained
}

type watchEntry struct {
	path string
	cb   engine.Value
}

func NewWatcher(backend engine.Backend) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		backend: backend,
		fs:      fs,
		entries: make(map[string]watchEntry),
		byPath:  make(map[string][]string),
		closed:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.dispatch(event)
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Watcher errors are discarded; they are not reported to script
			// and do not affect the watch set.
		}
	}
}

func (w *Watcher) dispatch(event fsnotify.Event) {
	var kind ChangeKind
	switch {
	case event.Op&(fsnotify.Remove) != 0:
		kind = ChangeDeleted
	case event.Op&fsnotify.Rename != 0:
		kind = ChangeRenamed
	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) != 0:
		kind = ChangeModified
	default:
		return
	}

	// fsnotify reports events named after the changed entry itself; when the
	// registration watches a directory (the common case — spec.md §4.3
	// "Recursive watching is not guaranteed by the contract" implies
	// non-recursive directory watches are the baseline), the matching
	// registration is keyed by the parent directory instead.
	w.mu.Lock()
	ids := append([]string(nil), w.byPath[event.Name]...)
	ids = append(ids, w.byPath[filepath.Dir(event.Name)]...)
	w.mu.Unlock()

	// Duplicate delete events are emitted as observed, per the pinned Open
	// Question decision: the contract promises no callback skipped, not
	// exactly-once delivery.
	for _, id := range ids {
		w.mu.Lock()
		entry, ok := w.entries[id]
		w.mu.Unlock()
		if !ok {
			continue
		}
		atomic.AddInt32(&w.inflight, 1)
		w.queue.push(watchCompletion{cb: w.backend.Protect(entry.cb), path: event.Name, change: kind})
	}
}

// Watch registers cb to be invoked on changes to path, returning a
// unique id for Unwatch.
func (w *Watcher) Watch(path string, cb engine.Value) (string, error) {
	if err := w.fs.Add(path); err != nil {
		return "", err
	}
	id := uuid.NewString()
	protected := w.backend.Protect(cb) // held for the registration's lifetime, released in Unwatch

	w.mu.Lock()
	w.entries[id] = watchEntry{path: path, cb: protected}
	w.byPath[path] = append(w.byPath[path], id)
	w.mu.Unlock()

	return id, nil
}

// Unwatch removes a prior registration. Stops the underlying fsnotify watch
// on path once no registrations remain for it.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	entry, ok := w.entries[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.entries, id)
	ids := w.byPath[entry.path]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(w.byPath, entry.path)
	} else {
		w.byPath[entry.path] = ids
	}
	w.mu.Unlock()

	if len(ids) == 0 {
		_ = w.fs.Remove(entry.path)
	}
	w.backend.Unprotect(entry.cb)
}

func (w *Watcher) Step() {
	for _, item := range w.queue.drain() {
		atomic.AddInt32(&w.inflight, -1)
		val := w.toValue(item)
		invokeCallback(w.backend, item.cb, val)
	}
}

func (w *Watcher) Pending() bool {
	return atomic.LoadInt32(&w.inflight) > 0 || w.queue.len() > 0
}

func (w *Watcher) Close() error {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
	return w.fs.Close()
}

func (w *Watcher) toValue(c watchCompletion) engine.Value {
	b := w.backend
	obj := b.NewObject()
	_ = b.SetProperty(obj, "path", b.NewString(c.path))
	_ = b.SetProperty(obj, "kind", b.NewString(c.change.String()))
	return obj
}
