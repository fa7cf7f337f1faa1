// Package host implements the runtime host's frame loop (spec.md §4.5): the
// single-threaded, cooperative cycle that pumps platform events, steps the
// event loop, fires due timers and RAF callbacks, drains microtasks, and
// presents a frame through a gpucontext.Context.
//
// Grounded on the teacher's internal/app.Run/runPeer (before this repo's
// transformation removed internal/app along with the rest of the
// peer-to-peer application): a single exported Run(ctx) entry point that
// redirects log.SetOutput into a ring buffer, drives a ticker-style
// periodic step, and shuts down cleanly on <-ctx.Done(). The DOM-shaped
// globals (console/setTimeout/fetch/...) follow the same "inject a Go
// closure into a table" idiom the teacher used for its goop.* API
// (internal/lua/sandbox.go's injectGoopTable).
package host

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mystral-run/mystral/internal/audioengine"
	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/eventloop"
	"github.com/mystral-run/mystral/internal/gpucontext"
	"github.com/mystral-run/mystral/internal/hostlog"
	"github.com/mystral-run/mystral/internal/iodispatch"
	"github.com/mystral-run/mystral/internal/modsys"
)

// PlatformPump pumps a real window's input/resize/quit events, supplied by
// the external platform layer spec.md §1 treats as an out-of-scope
// collaborator. Headless/no-sdl runs have no platform to pump and leave
// this nil.
type PlatformPump interface {
	// Pump processes any pending platform events. resized is true if the
	// drawable size changed this call, in which case width/height carry the
	// new size.
	Pump() (resized bool, width, height int, quit bool)
}

// Options configures a Host. Only Backend, Loader, and GPU are required;
// everything else has a usable zero value for a minimal headless run.
type Options struct {
	Backend    engine.Backend
	Loader     *modsys.Loader
	Loop       *eventloop.Loop
	HTTP       *iodispatch.HTTPClient
	Files      *iodispatch.FileReader
	Watcher    *iodispatch.Watcher
	GPU        gpucontext.Context
	Audio      *audioengine.Context // nil disables the audio engine entirely
	Log        *hostlog.Buffer
	Platform   PlatformPump // nil for headless/no-sdl
	ScriptPath string

	// EvalTimeout bounds the entry script's top-level synchronous evaluation
	// (not per-frame timer/RAF callbacks — see luabackend.Context.SetTimeout).
	// Zero disables the bound. Backends that don't implement the optional
	// timeout capability silently ignore this.
	EvalTimeout time.Duration

	Render bool // false for --no-sdl (no swapchain/present step at all)

	MaxFrames      int    // >0: quit once this many frames have presented (headless --frames)
	ScreenshotPath string // written once, on the frame MaxFrames completes if set
	WatchReload    bool   // --watch: reload the entry on file change

	IdleFrameLimit int // consecutive idle frames before auto-quit (0 disables)

	Quiet bool // --quiet: suppress the host's own diagnostic lines; script console.log still prints
}

// Host owns one frame loop for one process. Exactly one script engine
// backend and one GPU context are driven from the main goroutine only
// (spec.md §5 "single-threaded cooperative on the main thread for all
// script and GPU work").
type Host struct {
	opt Options

	backend engine.Backend
	loader  *modsys.Loader
	loop    *eventloop.Loop
	http    *iodispatch.HTTPClient
	files   *iodispatch.FileReader
	watcher *iodispatch.Watcher
	gpu     gpucontext.Context
	audio   *audioengine.Context
	log     *hostlog.Buffer

	startTime time.Time
	frameNum  int
	idleRun   int

	timers       *timerSet
	raf          rafQueue
	microtasks   []microtask
	reloadWanted string // non-empty: path that changed, reload before the next frame

	canvasWidth, canvasHeight int
	exiting                   bool
	exitCode                  int

	listeners map[string][]engine.Value
}

type microtask struct {
	cb   engine.Value
	args []engine.Value
}

// New builds a Host and installs its DOM-shaped globals. It does not
// evaluate the entry script; call Run to start the frame loop, which
// performs the first evaluation before frame 1.
func New(opt Options) (*Host, error) {
	if opt.Backend == nil {
		return nil, fmt.Errorf("host: Options.Backend is required")
	}
	if opt.Loader == nil {
		return nil, fmt.Errorf("host: Options.Loader is required")
	}
	if opt.GPU == nil {
		return nil, fmt.Errorf("host: Options.GPU is required")
	}

	h := &Host{
		opt:       opt,
		backend:   opt.Backend,
		loader:    opt.Loader,
		loop:      opt.Loop,
		http:      opt.HTTP,
		files:     opt.Files,
		watcher:   opt.Watcher,
		gpu:       opt.GPU,
		audio:     opt.Audio,
		log:       opt.Log,
		startTime: time.Now(),
		timers:    newTimerSet(),
		listeners: make(map[string][]engine.Value),
	}
	h.installGlobals()
	return h, nil
}

func (h *Host) nowNanos() int64 { return time.Since(h.startTime).Nanoseconds() }

// nowMs matches spec.md §4.5's performance.now(): "monotonic ms since
// process start".
func (h *Host) nowMs() float64 { return float64(h.nowNanos()) / 1e6 }

func (h *Host) setGlobal(name string, v engine.Value) {
	if err := h.backend.SetGlobal(name, v); err != nil {
		h.logf("host: set global %s: %v", name, err)
	}
}

// logf reports an internal host diagnostic (reload failures, uncaught
// exceptions, GPU device loss, ...). It is suppressed from stdout by
// --quiet but still recorded into the log buffer for the debug channel's
// "console" event stream.
func (h *Host) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !h.opt.Quiet {
		fmt.Println(msg)
	}
	if h.log != nil {
		fmt.Fprintln(h.log, msg)
	}
}

// consoleOut backs console.log/warn/error (globals.go): script output is
// never suppressed by --quiet, matching spec.md §8's literal stdout-order
// scenarios, which pass no quiet flag of their own.
func (h *Host) consoleOut(msg string) {
	fmt.Println(msg)
	if h.log != nil {
		fmt.Fprintln(h.log, msg)
	}
}

// Run evaluates the entry script and drives the frame loop until an exit
// condition is reached (spec.md §4.5), returning the process exit code.
func (h *Host) Run(ctx context.Context) (int, error) {
	if err := h.evalEntry(); err != nil {
		h.reportScriptError(err)
		return 1, nil // ScriptException at entry eval exits 1, per spec.md §7
	}

	for {
		select {
		case <-ctx.Done():
			return h.exitCode, nil
		default:
		}

		done, err := h.frameStep()
		if err != nil {
			return 1, err
		}
		if done {
			return h.exitCode, nil
		}
	}
}

// evalEntry loads and executes the entry module (disk or bundle) via the
// same loader require()/import path a CJS requirer would use, so top-level
// console.log/setTimeout/etc. calls run exactly once.
func (h *Host) evalEntry() error {
	if setter, ok := h.backend.(interface{ SetTimeout(time.Duration) func() }); ok {
		clear := setter.SetTimeout(h.opt.EvalTimeout)
		defer clear()
	}
	if h.opt.ScriptPath == "" {
		if _, ok, err := h.loader.EntryExports(); err != nil {
			return err
		} else if ok {
			h.drainMicrotasks()
			return nil
		}
		return fmt.Errorf("host: no script path and no embedded bundle entry")
	}
	_, err := h.loader.Require(h.opt.ScriptPath, "")
	if err != nil {
		return err
	}
	// A microtask checkpoint runs here so a promise resolved during
	// top-level evaluation (spec.md §8 scenario 2) settles before frame 1's
	// timers fire, matching spec.md §4.5's ordering.
	h.drainMicrotasks()
	return nil
}

func (h *Host) reportScriptError(err error) {
	h.logf("uncaught exception: %v", err)
}

// frameStep performs exactly one cycle of spec.md §4.5's ordered frame
// step, returning done=true once an exit condition is reached.
func (h *Host) frameStep() (bool, error) {
	// 1. Pump platform events (resize/quit). No-op when headless with no
	// platform attached.
	if h.opt.Platform != nil {
		resized, w, hgt, quit := h.opt.Platform.Pump()
		if quit {
			return true, nil
		}
		if resized {
			h.canvasWidth, h.canvasHeight = w, hgt
			_ = h.gpu.Resize(w, hgt)
		}
	}

	// 2+3. Event-loop step + I/O drains: eventloop.Loop.Step polls every
	// registered iodispatch source (HTTP, file, watch) and invokes ready
	// callbacks directly, which is this host's single point of re-entry
	// into the script engine from a prior frame's pending I/O.
	ioActive := false
	if h.loop != nil {
		ioActive = h.loop.Step()
	}
	h.drainAudioCompletions()

	if h.reloadWanted != "" {
		path := h.reloadWanted
		h.reloadWanted = ""
		if err := h.reload(); err != nil {
			h.logf("hot reload of %s failed: %v", path, err)
		}
	}

	// 4. Fire due timers in (due-time, sequence) order; re-arm intervals.
	for _, t := range h.timers.due(h.nowNanos()) {
		h.invokeTimer(t)
	}

	// 5. Swap the RAF queue and invoke each callback with the current
	// monotonic ms.
	due := h.raf.swap()
	nowMs := h.backend.NewNumber(h.nowMs())
	for _, e := range due {
		_, callErr := h.backend.Call(e.cb, h.backend.Undefined(), []engine.Value{nowMs})
		h.backend.Unprotect(e.cb)
		if callErr != nil {
			h.reportScriptError(callErr)
		}
		h.drainMicrotasks()
	}

	// 6. Drain microtasks to quiescence (a microtask callback may itself
	// queue more microtasks; also the catch-all for any queued during
	// step 2+3's I/O-completion callbacks, which run before timers/RAF).
	h.drainMicrotasks()

	// 7. Render: acquire the current target, present. Script-issued GPU
	// work during the RAF callbacks above has already been recorded
	// synchronously against the acquired texture (the WebGPU binding
	// itself is out of scope; see gpucontext for the bridging surface).
	if h.opt.Render {
		if _, status, err := h.gpu.AcquireFrame(); err != nil || status == gpucontext.StatusLost {
			h.logf("gpu: fatal device loss: %v", err)
			return true, nil
		}
		if err := h.gpu.Present(); err != nil {
			return true, err
		}
	}

	h.frameNum++

	// 8. Exit conditions.
	if h.exiting {
		return true, nil
	}
	if h.opt.MaxFrames > 0 && h.frameNum >= h.opt.MaxFrames {
		if h.opt.ScreenshotPath != "" {
			if err := h.writeScreenshot(h.opt.ScreenshotPath); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	idle := !h.timers.pending() && !h.raf.hasPending() && !ioActive && h.microtaskQueueEmpty()
	if idle {
		h.idleRun++
	} else {
		h.idleRun = 0
	}
	if h.opt.IdleFrameLimit > 0 && h.idleRun >= h.opt.IdleFrameLimit {
		return true, nil
	}

	return false, nil
}

func (h *Host) invokeTimer(t *timer) {
	_, err := h.backend.Call(t.cb, h.backend.Undefined(), t.args)
	if t.period == 0 {
		h.backend.Unprotect(t.cb)
	}
	if err != nil {
		h.reportScriptError(err)
	}
	// A microtask checkpoint after every timer callback (spec.md §4.5),
	// not just once at the end of the frame, so a promise resolved inside
	// one timer settles before the next timer or RAF callback runs.
	h.drainMicrotasks()
}

func (h *Host) microtaskQueueEmpty() bool { return len(h.microtasks) == 0 }

// queueMicrotaskCall schedules an already-protected cb to run with a single
// argument during the next drain pass. Ownership of the protection transfers
// to the microtask queue, which unprotects it after the call; callers must
// protect cb themselves exactly once before queuing (spec.md §3 "a protected
// callback handle is unprotected exactly once").
func (h *Host) queueMicrotaskCall(cb engine.Value, arg engine.Value) {
	h.microtasks = append(h.microtasks, microtask{cb: cb, args: []engine.Value{arg}})
}

func (h *Host) drainMicrotasks() {
	for len(h.microtasks) > 0 {
		next := h.microtasks[0]
		h.microtasks = h.microtasks[1:]
		_, err := h.backend.Call(next.cb, h.backend.Undefined(), next.args)
		h.backend.Unprotect(next.cb)
		if err != nil {
			h.reportScriptError(err)
		}
	}
}

// writeScreenshot is also invoked directly by the debug channel's
// "screenshot" command (spec.md §4.5, §4.9).
func (h *Host) writeScreenshot(path string) error {
	png, err := h.gpu.Screenshot()
	if err != nil {
		return fmt.Errorf("host: screenshot: %w", err)
	}
	return os.WriteFile(path, png, 0o644)
}

// Screenshot exposes the current frame's PNG bytes, used by the debug
// channel's "screenshot" command without writing to disk.
func (h *Host) Screenshot() ([]byte, error) { return h.gpu.Screenshot() }

// FrameCount reports frames presented so far, used by the debug channel's
// "getFrameCount" command.
func (h *Host) FrameCount() int { return h.frameNum }

// Exit records an exit code and sets the quit flag, implementing
// process.exit(n)'s contract (spec.md §4.5/§6): the loop checks this at the
// frame-step boundary, after present, per the pinned Open Question decision.
func (h *Host) Exit(code int) {
	h.exiting = true
	h.exitCode = code
}

// RequestReload schedules a hot reload before the next frame (spec.md
// §4.5), called by the file watcher registered against the entry script
// when --watch is enabled.
func (h *Host) RequestReload(path string) {
	h.reloadWanted = path
}

// Eval runs src through the script engine's classic-mode evaluator,
// implementing the debug channel's "evaluate" command (spec.md §4.9).
func (h *Host) Eval(src string) (string, error) {
	v, err := h.backend.Eval(src, "<debug-eval>", engine.ModeClassic)
	if err != nil {
		return "", err
	}
	s, err := h.backend.ToString(v)
	if err != nil {
		return "", nil
	}
	return s, nil
}

// Backend exposes the underlying script engine, used by the debug channel
// and tests.
func (h *Host) Backend() engine.Backend { return h.backend }

// DispatchKey synthesizes a "keydown" event and delivers it to every
// listener registered through document.addEventListener("keydown", ...),
// implementing the debug channel's "keyboard.press" command (spec.md §4.9).
// Delivery happens synchronously on the main thread, matching every other
// callback invocation in this package.
func (h *Host) DispatchKey(key string) error {
	b := h.backend
	evt := b.NewObject()
	_ = b.SetProperty(evt, "type", b.NewString("keydown"))
	_ = b.SetProperty(evt, "key", b.NewString(key))
	return h.dispatchEvent("keydown", evt)
}

func (h *Host) dispatchEvent(eventType string, evt engine.Value) error {
	cbs := h.listeners[eventType]
	var firstErr error
	for _, cb := range cbs {
		if _, err := h.backend.Call(cb, h.backend.Undefined(), []engine.Value{evt}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *Host) addEventListener(eventType string, cb engine.Value) {
	h.listeners[eventType] = append(h.listeners[eventType], h.backend.Protect(cb))
}
