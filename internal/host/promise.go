package host

import (
	"sync"

	"github.com/mystral-run/mystral/internal/engine"
)

// promiseState backs a script-visible Promise-shaped object: a "then"
// method plus pending fulfillment/rejection callbacks. gopher-lua (the
// portable interpreter backing internal/engine/luabackend) has no native
// promise or microtask concept of its own, so the host implements the
// handful of JS Promise semantics spec.md §4.5 actually needs (fetch's
// Promise-returning surface, Promise.resolve().then()) as a small table
// with a native "then" closure, the same way the teacher injects Go
// closures into its goop.* API table (internal/lua/sandbox.go's
// injectGoopTable, before this repo's transformation removed that
// package).
type promiseState struct {
	h *Host

	mu        sync.Mutex
	settled   bool
	fulfilled bool
	value     engine.Value
	onFulfill []engine.Value
	onReject  []engine.Value
}

// newPromise builds an unsettled promise object and its resolve/reject
// functions, mirroring Go's own (chan, send) construction for a future.
func (h *Host) newPromise() (obj engine.Value, resolve func(engine.Value), reject func(engine.Value)) {
	b := h.backend
	ps := &promiseState{h: h}

	var self engine.Value
	thenFn := b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		var onF, onR engine.Value
		if len(args) > 0 {
			onF = args[0]
		}
		if len(args) > 1 {
			onR = args[1]
		}
		ps.addCallbacks(onF, onR)
		return self, nil // not a fully chained Promises/A+ implementation; see DESIGN.md
	})

	obj = b.NewObject()
	self = obj
	_ = b.SetProperty(obj, "then", thenFn)
	b.SetPrivate(obj, ps)

	resolve = func(v engine.Value) { ps.settle(true, v) }
	reject = func(v engine.Value) { ps.settle(false, v) }
	return obj, resolve, reject
}

func (ps *promiseState) addCallbacks(onFulfill, onReject engine.Value) {
	ps.mu.Lock()
	if !ps.settled {
		if onFulfill != nil {
			ps.onFulfill = append(ps.onFulfill, ps.h.backend.Protect(onFulfill))
		}
		if onReject != nil {
			ps.onReject = append(ps.onReject, ps.h.backend.Protect(onReject))
		}
		ps.mu.Unlock()
		return
	}
	fulfilled, value := ps.fulfilled, ps.value
	ps.mu.Unlock()

	cb := onFulfill
	if !fulfilled {
		cb = onReject
	}
	if cb == nil {
		return
	}
	ps.h.queueMicrotaskCall(ps.h.backend.Protect(cb), value)
}

// settle fulfills or rejects the promise exactly once; later calls are
// no-ops, matching JS Promise semantics where only the first settlement
// sticks.
func (ps *promiseState) settle(fulfilled bool, value engine.Value) {
	ps.mu.Lock()
	if ps.settled {
		ps.mu.Unlock()
		return
	}
	ps.settled = true
	ps.fulfilled = fulfilled
	ps.value = value
	cbs := ps.onFulfill
	if !fulfilled {
		cbs = ps.onReject
	}
	ps.onFulfill, ps.onReject = nil, nil
	ps.mu.Unlock()

	for _, cb := range cbs {
		ps.h.queueMicrotaskCall(cb, value)
	}
}

// installPromiseGlobal exposes Promise.resolve(value), used directly by
// spec.md §8 scenario 2 ("Promise.resolve().then(...)").
func (h *Host) installPromiseGlobal() {
	b := h.backend
	promiseTbl := b.NewObject()
	_ = b.SetProperty(promiseTbl, "resolve", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		var v engine.Value
		if len(args) > 0 {
			v = args[0]
		} else {
			v = b.Undefined()
		}
		obj, resolve, _ := h.newPromise()
		resolve(v)
		return obj, nil
	}))
	_ = b.SetProperty(promiseTbl, "reject", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		var v engine.Value
		if len(args) > 0 {
			v = args[0]
		} else {
			v = b.Undefined()
		}
		obj, _, reject := h.newPromise()
		reject(v)
		return obj, nil
	}))
	h.setGlobal("Promise", promiseTbl)
}
