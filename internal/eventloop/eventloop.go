// Package eventloop implements the single OS-level reactor the runtime host
// steps once per frame (spec.md §4.1): a non-blocking poll across whatever
// I/O sources are registered (HTTP client, file reader, file watcher, debug
// channel), each producing completions onto its own queue that the main
// thread drains between frames.
//
// Grounded on the teacher's internal/lua.Engine.watchLoop — a single
// goroutine select{}-ing over a fsnotify watcher's Events/Errors channels
// plus a closed-channel shutdown signal — generalized from one hardcoded
// watcher to an arbitrary registered Source set, and on internal/mq.Manager's
// map-of-channels bookkeeping style for tracking live registrations.
package eventloop

import "sync"

// Source is one async I/O subsystem the loop drives: internal/iodispatch's
// HTTPClient, FileReader, and Watcher all implement this.
type Source interface {
	// Step performs one non-blocking poll, dispatching any completions that
	// are already ready. It must not block and must not call into the
	// script engine directly (spec.md §4.1 "must not execute script code
	// directly; they enqueue completions").
	Step()
	// Pending reports whether this source still has outstanding work.
	Pending() bool
	// Close releases the source's resources. Idempotent.
	Close() error
}

// Loop is the event loop reactor. The host creates exactly one per process
// and registers every async I/O source on it before the first frame.
type Loop struct {
	mu          sync.Mutex
	sources     []Source
	initialized bool
	closed      bool
}

func New() *Loop {
	return &Loop{}
}

// Register attaches a Source to the loop. Must be called before Init, or
// before the first Step if Init is never called explicitly.
func (l *Loop) Register(s Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, s)
}

// Init marks the loop ready to step. Idempotent (spec.md §4.1
// "Initialization is idempotent").
func (l *Loop) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = true
	return nil
}

// Step performs one non-blocking poll across every registered source and
// reports whether any source still has pending work, matching spec.md
// §4.1's "has pending work" return contract.
func (l *Loop) Step() bool {
	l.mu.Lock()
	sources := make([]Source, len(l.sources))
	copy(sources, l.sources)
	closed := l.closed
	l.mu.Unlock()

	if closed {
		return false
	}

	hasPending := false
	for _, s := range sources {
		s.Step()
		if s.Pending() {
			hasPending = true
		}
	}
	return hasPending
}

// Pending reports whether any registered source has outstanding work,
// without performing a poll.
func (l *Loop) Pending() bool {
	l.mu.Lock()
	sources := make([]Source, len(l.sources))
	copy(sources, l.sources)
	l.mu.Unlock()

	for _, s := range sources {
		if s.Pending() {
			return true
		}
	}
	return false
}

// Close calls Close on every registered source and returns the first error.
// It does not poll Pending afterward, so any waiting for in-flight work
// happens inside a source's own Close (HTTPClient waits for its in-flight
// requests). Idempotent (spec.md §4.1).
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	sources := make([]Source, len(l.sources))
	copy(sources, l.sources)
	l.mu.Unlock()

	var firstErr error
	for _, s := range sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
