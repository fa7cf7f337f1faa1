package host

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mystral-run/mystral/internal/engine/luabackend"
	"github.com/mystral-run/mystral/internal/gpucontext"
	"github.com/mystral-run/mystral/internal/hostlog"
	"github.com/mystral-run/mystral/internal/modsys"
)

// consoleLines extracts just the logged message text, in order, from a
// hostlog.Buffer attached via Options.Log — the mechanism spec.md §8's
// literal stdout-order scenarios are asserted against here, since capturing
// the process's real stdout would require a much heavier test harness.
func consoleLines(log *hostlog.Buffer) []string {
	entries := log.Snapshot()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Msg
	}
	return out
}

// writeEntry writes a Lua entry script (this engine's script surface, per
// internal/modsys's own test fixtures) into a fresh temp dir and returns its
// absolute path.
func writeEntry(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "entry.js")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestHost wires the minimal real (non-mock) dependencies a headless run
// needs: a gopher-lua backend and an offscreen GPU context, exactly as
// cmd/mystral's run command does for --headless.
func newTestHost(t *testing.T, scriptPath string, opt Options) *Host {
	t.Helper()

	backend := luabackend.New(luabackend.Options{})
	t.Cleanup(backend.Close)

	root := filepath.Dir(scriptPath)
	resolver := modsys.New(root, nil, nil)
	loader := modsys.NewLoader(resolver, backend, nil)

	gpu := gpucontext.NewOffscreen()
	if err := gpu.ConfigureHeadless(16, 16); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = gpu.Close() })

	opt.Backend = backend
	opt.Loader = loader
	opt.GPU = gpu
	opt.ScriptPath = scriptPath

	h, err := New(opt)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHostRunStopsAtMaxFrames(t *testing.T) {
	script := writeEntry(t, `console.log("hello")`)
	h := newTestHost(t, script, Options{MaxFrames: 3, Render: true})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if h.FrameCount() != 3 {
		t.Fatalf("expected 3 frames presented, got %d", h.FrameCount())
	}
}

func TestHostProcessExitSetsExitCode(t *testing.T) {
	script := writeEntry(t, `process.exit(7)`)
	h := newTestHost(t, script, Options{MaxFrames: 10})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	// process.exit during entry eval sets the quit flag, but the frame
	// loop's exit check runs after step 8's frameNum++, so frame 1 still
	// counts as presented before the loop observes h.exiting.
	if h.FrameCount() != 1 {
		t.Fatalf("expected 1 frame presented, got %d", h.FrameCount())
	}
}

func TestHostIdleFrameLimitAutoQuits(t *testing.T) {
	script := writeEntry(t, `-- no timers, no RAF, nothing pending`)
	h := newTestHost(t, script, Options{IdleFrameLimit: 2, MaxFrames: 0})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if h.FrameCount() != 2 {
		t.Fatalf("expected auto-quit after 2 idle frames, got %d", h.FrameCount())
	}
}

func TestHostTimerFiresBeforeIdleQuit(t *testing.T) {
	script := writeEntry(t, `
local fired = false
setTimeout(function()
  fired = true
  console.log("timer fired")
end, 0)
`)
	h := newTestHost(t, script, Options{IdleFrameLimit: 2})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	// The timer fires on frame 1, but idleness is judged on post-fire
	// state, so frame 1 already counts toward IdleFrameLimit once the
	// one-shot timer is consumed; two such frames quit the loop.
	if h.FrameCount() != 2 {
		t.Fatalf("expected 2 frames, got %d", h.FrameCount())
	}
}

func TestHostRAFReceivesMonotonicTimestamp(t *testing.T) {
	script := writeEntry(t, `
requestAnimationFrame(function(ts)
  if ts >= 0 then
    console.log("raf ok")
  end
end)
`)
	log := hostlog.New(16)
	h := newTestHost(t, script, Options{Log: log, IdleFrameLimit: 1, Render: true})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if got := consoleLines(log); !reflect.DeepEqual(got, []string{"raf ok"}) {
		t.Fatalf("expected RAF callback to log \"raf ok\", got %v", got)
	}
}

func TestHostNoScriptPathWithoutBundleFails(t *testing.T) {
	backend := luabackend.New(luabackend.Options{})
	defer backend.Close()

	resolver := modsys.New(t.TempDir(), nil, nil)
	loader := modsys.NewLoader(resolver, backend, nil)

	gpu := gpucontext.NewOffscreen()
	if err := gpu.ConfigureHeadless(16, 16); err != nil {
		t.Fatal(err)
	}
	defer gpu.Close()

	h, err := New(Options{Backend: backend, Loader: loader, GPU: gpu, MaxFrames: 1})
	if err != nil {
		t.Fatal(err)
	}

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 1 {
		t.Fatalf("expected exit code 1 for missing entry, got %d", code)
	}
}

// TestHostScenarioTwoTimersOrderBySchedule covers spec.md §8 scenario 1:
// two zero-delay timers scheduled after a synchronous console.log fire in
// registration order on frame 1, after the synchronous log line.
func TestHostScenarioTwoTimersOrderBySchedule(t *testing.T) {
	script := writeEntry(t, `
setTimeout(function() console.log("A") end, 0)
setTimeout(function() console.log("B") end, 0)
console.log("C")
`)
	log := hostlog.New(16)
	h := newTestHost(t, script, Options{Log: log, MaxFrames: 1})

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"C", "A", "B"}
	if got := consoleLines(log); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stdout order %v, got %v", want, got)
	}
}

// TestHostScenarioMicrotaskBeforeTimer covers spec.md §8 scenario 2: a
// microtask queued during top-level evaluation (Promise.resolve().then())
// must run before the first frame's zero-delay timer, even though the
// timer was scheduled first.
func TestHostScenarioMicrotaskBeforeTimer(t *testing.T) {
	script := writeEntry(t, `
Promise.resolve()["then"](function() console.log("M") end)
setTimeout(function() console.log("T") end, 0)
console.log("S")
`)
	log := hostlog.New(16)
	h := newTestHost(t, script, Options{Log: log, MaxFrames: 1})

	if _, err := h.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"S", "M", "T"}
	if got := consoleLines(log); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stdout order %v, got %v", want, got)
	}
}

// TestHostAudioContextInstalledWithoutDevice covers spec.md §4.7's
// AudioContext surface reaching script even when no audio device is
// attached (Options.Audio nil, e.g. no device could be opened, or a
// headless test host):
// the constructor and its nodes must be reachable and fail cleanly rather
// than be entirely absent from globals.
func TestHostAudioContextInstalledWithoutDevice(t *testing.T) {
	script := writeEntry(t, `
local ctx = AudioContext()
if ctx.state ~= "suspended" then
  error("expected suspended state with no device, got " .. tostring(ctx.state))
end
local ok, err = pcall(function()
  ctx.createBuffer(1, 4, 44100)
end)
if ok then
  error("expected createBuffer to fail with no audio device")
end
console.log("audio ok")
`)
	log := hostlog.New(16)
	h := newTestHost(t, script, Options{Log: log, MaxFrames: 1})

	code, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	want := []string{"audio ok"}
	if got := consoleLines(log); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stdout %v, got %v", want, got)
	}
}

func TestHostContextCancelStopsLoop(t *testing.T) {
	script := writeEntry(t, `console.log("running")`)
	h := newTestHost(t, script, Options{}) // no MaxFrames/IdleFrameLimit: would run forever

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, err := h.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0 on cancellation, got %d", code)
	}
}
