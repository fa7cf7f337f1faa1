// Package iodispatch implements the three async I/O subsystems that share
// one pattern (spec.md §4.3): a worker produces a completion on a thread,
// the main thread drains and fires callbacks via eventloop.Source.Step.
//
// Grounded on the teacher's internal/lua.Engine.watchLoop (background
// goroutine feeding a channel, drained by a select{}-driven reactor) and
// internal/listen.Manager's pipesMu-guarded map of concurrently-running
// streams, generalized from MP3-relay pipes to generic completion records.
package iodispatch

import (
	"sync"

	"github.com/mystral-run/mystral/internal/engine"
)

// AssetSource is the read side of an embedded bundle, used to resolve
// asset:// URLs. Structurally identical to modsys.BundleSource so one
// internal/bundle.Directory value satisfies both without either package
// importing the other.
type AssetSource interface {
	Has(path string) bool
	Read(path string) ([]byte, error)
}

// completionQueue is a small MPSC queue: producers push from worker
// goroutines, Step drains it from the main thread.
type completionQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *completionQueue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

func (q *completionQueue[T]) drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

func (q *completionQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// invokeCallback calls a protected callback with a single argument and
// unprotects it afterward, regardless of outcome — the ownership-transfer
// rule from spec.md §3 ("the consumer ... must unprotect after invocation").
func invokeCallback(backend engine.Backend, cb engine.Value, arg engine.Value) {
	defer backend.Unprotect(cb)
	// The call's error is discarded and not reported: nothing in the drain
	// path or the host's frame loop reads backend.PendingException.
	_, _ = backend.Call(cb, backend.Undefined(), []engine.Value{arg})
}
