package host

import "github.com/mystral-run/mystral/internal/engine"

// rafEntry is one requestAnimationFrame registration (spec.md §3 "RAF
// queue"): a protected callback and the id returned to script.
type rafEntry struct {
	id int64
	cb engine.Value
}

// rafQueue implements spec.md §3's "FIFO of protected callback handles
// pending for the current frame. Swapped with an empty queue at the start
// of each frame; callbacks appended by script during the frame join next
// frame's queue."
type rafQueue struct {
	pending []rafEntry // collects requestAnimationFrame calls for the *next* frame
	nextID  int64
}

// request appends cb to the pending (next-frame) queue and returns its id.
func (q *rafQueue) request(cb engine.Value) int64 {
	q.nextID++
	q.pending = append(q.pending, rafEntry{id: q.nextID, cb: cb})
	return q.nextID
}

// cancel removes id from the pending queue if still present. Per the pinned
// Open Question decision (DESIGN.md): once an id has been swapped out of
// the pending slot into the currently-executing frame's queue, it is no
// longer found here and its callback still fires — cancellation only ever
// drops a callback that has not yet been swapped in.
func (q *rafQueue) cancel(id int64) {
	for i, e := range q.pending {
		if e.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// swap returns the queue due to run this frame and resets pending to empty,
// matching spec.md §3's swap-at-start-of-frame rule.
func (q *rafQueue) swap() []rafEntry {
	due := q.pending
	q.pending = nil
	return due
}

func (q *rafQueue) hasPending() bool {
	return len(q.pending) > 0
}
