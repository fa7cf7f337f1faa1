package host

import (
	"container/heap"

	"github.com/mystral-run/mystral/internal/engine"
)

// timer is one setTimeout/setInterval registration (spec.md §3 "Timer
// entry"): due time, an interval period (0 for one-shot), a protected
// callback, and a sequence number that breaks ties between equal due
// times, per spec.md §8's "Timer ordering" property.
type timer struct {
	id       int64
	due      int64 // monotonic nanoseconds since host start
	period   int64 // 0 for one-shot
	cb       engine.Value
	args     []engine.Value
	seq      int64
	cleared  bool
	inHeapAt int // heap.Interface bookkeeping
}

// timerHeap is a min-heap ordered by (due, seq), matching spec.md §3's
// invariant "the timer set is always sorted by due-time; ties broken by
// insertion order".
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].inHeapAt, h[j].inHeapAt = i, j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.inHeapAt = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.inHeapAt = -1
	*h = old[:n-1]
	return t
}

// timerSet tracks every live timer, keyed by id so clearTimeout/clearInterval
// can cancel a registration that may or may not still be queued (spec.md §5
// "timer cancellation is id-based and takes effect no later than the next
// timer dispatch").
type timerSet struct {
	heap   timerHeap
	byID   map[int64]*timer
	nextID int64
	nextSeq int64
}

func newTimerSet() *timerSet {
	return &timerSet{byID: make(map[int64]*timer)}
}

// schedule inserts a new timer due at nowNanos+delayNanos (negative/zero
// delays schedule for "the next step", per spec.md §4.5). period is 0 for a
// one-shot setTimeout.
func (s *timerSet) schedule(nowNanos, delayNanos, period int64, cb engine.Value, args []engine.Value) int64 {
	if delayNanos < 0 {
		delayNanos = 0
	}
	s.nextID++
	s.nextSeq++
	t := &timer{
		id:     s.nextID,
		due:    nowNanos + delayNanos,
		period: period,
		cb:     cb,
		args:   args,
		seq:    s.nextSeq,
	}
	s.byID[t.id] = t
	heap.Push(&s.heap, t)
	return t.id
}

// clear marks id cleared; valid for any id including unknown (no-op), per
// spec.md §4.5 "clearTimeout/clearInterval are valid for any id". If the
// timer is still in the heap it is removed immediately so Pending() does not
// keep reporting it as outstanding work.
func (s *timerSet) clear(id int64) {
	t, ok := s.byID[id]
	if !ok {
		return
	}
	t.cleared = true
	delete(s.byID, id)
	if t.inHeapAt >= 0 {
		heap.Remove(&s.heap, t.inHeapAt)
	}
}

// due pops and returns every timer whose due time is <= nowNanos, in fire
// order (due-time then sequence), re-arming intervals at previous-due+period
// per spec.md §4.5 ("falls behind if a frame stalls", no drift-correction
// beyond that). An interval that fell behind by more than one period is
// re-armed only once here and catches up on subsequent frames, rather than
// firing repeatedly within this single pass.
func (s *timerSet) due(nowNanos int64) []*timer {
	var fired []*timer
	var rearm []*timer
	for s.heap.Len() > 0 && s.heap[0].due <= nowNanos {
		t := heap.Pop(&s.heap).(*timer)
		if t.cleared {
			continue
		}
		fired = append(fired, t)
		if t.period > 0 {
			t.due += t.period
			t.inHeapAt = -1
			rearm = append(rearm, t)
		} else {
			delete(s.byID, t.id)
		}
	}
	for _, t := range rearm {
		heap.Push(&s.heap, t)
	}
	return fired
}

func (s *timerSet) pending() bool {
	return s.heap.Len() > 0
}

// clearAll cancels every live timer, returning their callbacks so the
// caller can unprotect them (hot reload, spec.md §4.5 "all timers ... are
// cleared and their handles unprotected").
func (s *timerSet) clearAll() []engine.Value {
	var cbs []engine.Value
	for _, t := range s.byID {
		cbs = append(cbs, t.cb)
	}
	s.byID = make(map[int64]*timer)
	s.heap = nil
	return cbs
}
