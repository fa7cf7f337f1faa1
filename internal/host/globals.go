package host

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/iodispatch"
	"github.com/mystral-run/mystral/internal/modsys"
)

// installGlobals wires every DOM-shaped surface spec.md §4.5 lists onto the
// script engine's global scope, following the teacher's inject-a-closure-
// into-a-table idiom (internal/lua/sandbox.go's injectGoopTable, before
// this repo's transformation removed that package).
func (h *Host) installGlobals() {
	h.installConsole()
	h.installTimers()
	h.installRAF()
	h.installMicrotask()
	h.installPerformance()
	h.installProcess()
	h.installPromiseGlobal()
	h.installFetch()
	h.installDocument()
	h.installAudio()
}

func (h *Host) installConsole() {
	b := h.backend
	console := b.NewObject()
	logFn := func(level string) engine.NativeFunc {
		return func(this engine.Value, args []engine.Value) (engine.Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				s, err := b.ToString(a)
				if err != nil {
					s = "?"
				}
				parts[i] = s
			}
			h.consoleOut(strings.Join(parts, " "))
			_ = level
			return b.Undefined(), nil
		}
	}
	_ = b.SetProperty(console, "log", b.NewFunction(logFn("log")))
	_ = b.SetProperty(console, "warn", b.NewFunction(logFn("warn")))
	_ = b.SetProperty(console, "error", b.NewFunction(logFn("error")))
	h.setGlobal("console", console)
}

func (h *Host) installTimers() {
	b := h.backend

	h.setGlobal("setTimeout", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return h.scheduleTimer(args, 0)
	}))
	h.setGlobal("setInterval", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return h.scheduleTimer(args, 1)
	}))
	h.setGlobal("clearTimeout", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		h.clearTimerArg(args)
		return b.Undefined(), nil
	}))
	h.setGlobal("clearInterval", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		h.clearTimerArg(args)
		return b.Undefined(), nil
	}))
}

// scheduleTimer backs both setTimeout and setInterval: args are
// (fn, delayMs, ...extra). periodFlag is 0 for a one-shot, 1 for a
// recurring interval (spec.md §4.5 "Timer semantics").
func (h *Host) scheduleTimer(args []engine.Value, periodFlag int) (engine.Value, error) {
	b := h.backend
	if len(args) == 0 {
		return nil, fmt.Errorf("setTimeout/setInterval require a callback")
	}
	cb := b.Protect(args[0])

	delayMs := 0.0
	if len(args) > 1 {
		if n, err := b.ToNumber(args[1]); err == nil {
			delayMs = n
		}
	}
	delayNanos := int64(delayMs * float64(time.Millisecond))
	if delayNanos < 0 {
		delayNanos = 0
	}

	var extra []engine.Value
	if len(args) > 2 {
		extra = append(extra, args[2:]...)
	}

	var period int64
	if periodFlag != 0 {
		period = delayNanos
		if period <= 0 {
			period = int64(time.Millisecond) // avoid colliding with the one-shot sentinel of 0
		}
	}

	id := h.timers.schedule(h.nowNanos(), delayNanos, period, cb, extra)
	return b.NewNumber(float64(id)), nil
}

func (h *Host) clearTimerArg(args []engine.Value) {
	if len(args) == 0 {
		return
	}
	n, err := h.backend.ToNumber(args[0])
	if err != nil {
		return
	}
	h.timers.clear(int64(n))
}

func (h *Host) installRAF() {
	b := h.backend
	h.setGlobal("requestAnimationFrame", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return b.NewNumber(0), nil
		}
		cb := b.Protect(args[0])
		id := h.raf.request(cb)
		return b.NewNumber(float64(id)), nil
	}))
	h.setGlobal("cancelAnimationFrame", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return b.Undefined(), nil
		}
		n, err := b.ToNumber(args[0])
		if err == nil {
			h.raf.cancel(int64(n))
		}
		return b.Undefined(), nil
	}))
}

func (h *Host) installMicrotask() {
	b := h.backend
	h.setGlobal("queueMicrotask", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return b.Undefined(), nil
		}
		h.queueMicrotaskCall(b.Protect(args[0]), b.Undefined())
		return b.Undefined(), nil
	}))
}

func (h *Host) installPerformance() {
	b := h.backend
	perf := b.NewObject()
	_ = b.SetProperty(perf, "now", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		return b.NewNumber(h.nowMs()), nil
	}))
	h.setGlobal("performance", perf)
}

func (h *Host) installProcess() {
	b := h.backend
	proc := b.NewObject()
	_ = b.SetProperty(proc, "exit", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		code := 0
		if len(args) > 0 {
			if n, err := b.ToNumber(args[0]); err == nil {
				code = int(n)
			}
		}
		h.Exit(code)
		return b.Undefined(), nil
	}))
	h.setGlobal("process", proc)
}

// installFetch implements spec.md §4.5/§6's fetch(url, init): dispatch
// through iodispatch.HTTPClient (which already handles file://, asset://,
// http://, https:// scheme routing) and resolve a Promise with a decorated
// Response object exposing ok/status/url/headers.get()/json()/text()/
// arrayBuffer().
func (h *Host) installFetch() {
	b := h.backend
	h.setGlobal("fetch", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		promise, resolve, reject := h.newPromise()
		if len(args) == 0 {
			reject(b.NewString("fetch: url is required"))
			return promise, nil
		}
		url, err := b.ToString(args[0])
		if err != nil {
			reject(b.NewString("fetch: url is required"))
			return promise, nil
		}
		if h.http == nil {
			reject(b.NewString("fetch: no HTTP client attached"))
			return promise, nil
		}

		opt := iodispatch.RequestOptions{Method: "GET", URL: url, VerifyTLS: true}
		if len(args) > 1 {
			if m, err := b.GetProperty(args[1], "method"); err == nil && b.TypeOf(m) == engine.KindString {
				opt.Method, _ = b.ToString(m)
			}
			if body, err := b.GetProperty(args[1], "body"); err == nil && b.TypeOf(body) == engine.KindString {
				s, _ := b.ToString(body)
				opt.Body = []byte(s)
			}
			if to, err := b.GetProperty(args[1], "timeout"); err == nil && b.TypeOf(to) == engine.KindNumber {
				n, _ := b.ToNumber(to)
				opt.Timeout = time.Duration(n * float64(time.Second))
			}
			if vt, err := b.GetProperty(args[1], "verifyTLS"); err == nil && b.TypeOf(vt) == engine.KindBool {
				opt.VerifyTLS = b.ToBool(vt)
			}
		}

		cb := b.NewFunction(func(_ engine.Value, cbArgs []engine.Value) (engine.Value, error) {
			var resp engine.Value
			if len(cbArgs) > 0 {
				resp = cbArgs[0]
			} else {
				resp = b.NewObject()
			}
			h.decorateResponse(resp)
			resolve(resp)
			return b.Undefined(), nil
		})
		h.http.StartRequest(opt, cb)
		return promise, nil
	}))
}

// decorateResponse adds the script-visible methods spec.md §6's fetch
// semantics require on top of the plain ok/status/url/headers/bytes/error
// object iodispatch.HTTPClient already builds.
func (h *Host) decorateResponse(resp engine.Value) {
	b := h.backend

	// This backend maps both JS undefined and null onto the same LNil value
	// (KindNull), so "not present" is tested against KindNull here, not
	// KindUndefined.
	if headers, err := b.GetProperty(resp, "headers"); err == nil && b.TypeOf(headers) != engine.KindNull {
		_ = b.SetProperty(headers, "get", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
			if len(args) == 0 {
				return b.Null(), nil
			}
			name, _ := b.ToString(args[0])
			v, err := b.GetProperty(headers, strings.ToLower(name))
			if err != nil || b.TypeOf(v) == engine.KindNull {
				return b.Null(), nil
			}
			return v, nil
		}))
	}

	bytesVal, hasBytes := engine.Value(nil), false
	if v, err := b.GetProperty(resp, "bytes"); err == nil && b.TypeOf(v) != engine.KindNull {
		bytesVal, hasBytes = v, true
	}

	_ = b.SetProperty(resp, "arrayBuffer", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		p, resolve, _ := h.newPromise()
		if hasBytes {
			resolve(bytesVal)
		} else {
			resolve(b.Undefined())
		}
		return p, nil
	}))

	_ = b.SetProperty(resp, "text", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		p, resolve, reject := h.newPromise()
		if !hasBytes {
			resolve(b.NewString(""))
			return p, nil
		}
		raw, err := readTypedArrayBytes(b, bytesVal)
		if err != nil {
			reject(b.NewString(err.Error()))
			return p, nil
		}
		resolve(b.NewString(string(raw)))
		return p, nil
	}))

	_ = b.SetProperty(resp, "json", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		p, resolve, reject := h.newPromise()
		if !hasBytes {
			reject(b.NewString("json: empty response body"))
			return p, nil
		}
		raw, err := readTypedArrayBytes(b, bytesVal)
		if err != nil {
			reject(b.NewString(err.Error()))
			return p, nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			reject(b.NewString(err.Error()))
			return p, nil
		}
		v, err := modsys.JSONToValue(b, decoded)
		if err != nil {
			reject(b.NewString(err.Error()))
			return p, nil
		}
		resolve(v)
		return p, nil
	}))
}

// readTypedArrayBytes reads a Uint8Array engine.Value back into a Go byte
// slice. The engine.Backend abstraction exposes typed-array contents only
// through length + per-index reads (no bulk extraction primitive), so this
// walks the array one element at a time; acceptable for the response sizes
// this runtime handles, and the only approach available without adding a
// backend-specific escape hatch.
func readTypedArrayBytes(b engine.Backend, arr engine.Value) ([]byte, error) {
	lengthVal, err := b.GetProperty(arr, "length")
	if err != nil {
		return nil, err
	}
	n, err := b.ToNumber(lengthVal)
	if err != nil {
		return nil, err
	}
	out := make([]byte, int(n))
	for i := range out {
		ev, err := b.GetIndex(arr, i)
		if err != nil {
			return nil, err
		}
		v, err := b.ToNumber(ev)
		if err != nil {
			return nil, err
		}
		out[i] = byte(uint8(int(v)))
	}
	return out, nil
}

// installDocument provides the minimal DOM shims spec.md §4.5 names:
// document.getElementById/createElement, globalThis.canvas, and
// navigator.gpu's presence object. canvas.getContext("webgpu") returns a
// thin bridge exposing Clear, standing in for the out-of-scope WebGPU IDL
// binding (§1) so scripts can still drive a solid-color frame end to end
// (spec.md §8 scenario 6).
func (h *Host) installDocument() {
	b := h.backend

	canvas := h.newCanvasObject()
	h.setGlobal("canvas", canvas)

	document := b.NewObject()
	_ = b.SetProperty(document, "getElementById", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return b.Null(), nil
		}
		id, _ := b.ToString(args[0])
		if id == "canvas" {
			return canvas, nil
		}
		return b.Null(), nil
	}))
	_ = b.SetProperty(document, "createElement", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) > 0 {
			if tag, _ := b.ToString(args[0]); tag == "canvas" {
				return h.newCanvasObject(), nil
			}
		}
		return b.NewObject(), nil
	}))
	_ = b.SetProperty(document, "addEventListener", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) < 2 {
			return b.Undefined(), nil
		}
		eventType, err := b.ToString(args[0])
		if err != nil {
			return b.Undefined(), nil
		}
		h.addEventListener(eventType, args[1])
		return b.Undefined(), nil
	}))
	_ = b.SetProperty(document, "dispatchEvent", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return b.NewBool(true), nil
		}
		eventType := "event"
		if t, err := b.GetProperty(args[0], "type"); err == nil && b.TypeOf(t) != engine.KindNull {
			if s, err := b.ToString(t); err == nil {
				eventType = s
			}
		}
		if err := h.dispatchEvent(eventType, args[0]); err != nil {
			return nil, err
		}
		return b.NewBool(true), nil
	}))
	h.setGlobal("document", document)
	h.setGlobal("window", document)

	navigator := b.NewObject()
	gpu := b.NewObject()
	_ = b.SetProperty(gpu, "supportsIndirectFirstInstance", b.NewBool(h.gpu.SupportsIndirectFirstInstance()))
	_ = b.SetProperty(navigator, "gpu", gpu)
	h.setGlobal("navigator", navigator)
}

func (h *Host) newCanvasObject() engine.Value {
	b := h.backend
	canvas := b.NewObject()
	_ = b.SetProperty(canvas, "width", b.NewNumber(float64(h.canvasWidth)))
	_ = b.SetProperty(canvas, "height", b.NewNumber(float64(h.canvasHeight)))
	_ = b.SetProperty(canvas, "getContext", b.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		ctx := b.NewObject()
		_ = b.SetProperty(ctx, "clear", b.NewFunction(func(this engine.Value, cargs []engine.Value) (engine.Value, error) {
			vals := make([]float64, 4)
			vals[3] = 1
			for i := 0; i < len(cargs) && i < 4; i++ {
				if n, err := b.ToNumber(cargs[i]); err == nil {
					vals[i] = n
				}
			}
			if err := h.gpu.Clear(vals[0], vals[1], vals[2], vals[3]); err != nil {
				return nil, err
			}
			return b.Undefined(), nil
		}))
		return ctx, nil
	}))
	return canvas
}
