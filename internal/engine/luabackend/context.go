// Package luabackend implements engine.Backend atop github.com/yuin/gopher-lua,
// a portable, pure-Go, non-JIT interpreter — the "portable interpreter
// without JIT" tier the spec's script-engine abstraction calls for (spec
// §4.2; see DESIGN.md's internal/engine entry). It is grounded on the teacher's
// internal/lua/engine.go (compiled-proto cache, sandboxed VM, goroutine+
// timeout execution) and internal/lua/sandbox.go (selective SkipOpenLibs).
package luabackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mystral-run/mystral/internal/engine"
	lua "github.com/yuin/gopher-lua"
)

// Context is the concrete engine.Backend backed by one *lua.LState. The
// host creates exactly one Context per process (no hot-swap, per spec §4.2).
type Context struct {
	L *lua.LState

	mu        sync.Mutex
	protected map[lua.LValue]int // value identity -> refcount, for Protect/Unprotect balance
	private   map[lua.LValue]any // object identity -> native pointer
	pending   engine.Value       // last thrown exception, if any
}

// Options bounds the VM the way the teacher's cfg.MaxMemoryMB /
// cfg.TimeoutSeconds bound a script invocation.
type Options struct {
	RegistrySize    int
	RegistryMaxSize int
	CallStackSize   int
}

// RegistryMaxSizeForMB derives a registry growth cap from a memory budget in
// megabytes, grounded on the teacher's Engine.registryMaxSize (each registry
// slot costs roughly 48 bytes; the floor matches its 5120-slot minimum so a
// small budget never starves a script of stack space entirely).
func RegistryMaxSizeForMB(maxMemoryMB int) int {
	if maxMemoryMB <= 0 {
		return 0
	}
	max := maxMemoryMB * 1024 * 1024 / 48
	if max < 5120 {
		max = 5120
	}
	return max
}

// New creates a sandboxed Lua VM: a restricted standard-library subset,
// with dofile/loadfile/require removed (scripts only load code through the
// module system, never directly from the filesystem).
func New(opt Options) *Context {
	if opt.RegistrySize == 0 {
		opt.RegistrySize = 2048
	}
	if opt.CallStackSize == 0 {
		opt.CallStackSize = 256
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       opt.CallStackSize,
		RegistrySize:        opt.RegistrySize,
		RegistryMaxSize:     opt.RegistryMaxSize,
		RegistryGrowStep:    32,
		MinimizeStackMemory: true,
	})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range []string{"dofile", "loadfile", "require", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	return &Context{
		L:         L,
		protected: make(map[lua.LValue]int),
		private:   make(map[lua.LValue]any),
	}
}

func (c *Context) wrap(lv lua.LValue) engine.Value {
	if lv == nil {
		lv = lua.LNil
	}
	return &Value{ctx: c, lv: lv}
}

// asLua unwraps an engine.Value produced by this Context. Panics are not
// used; cross-engine misuse returns engine.ErrCrossEngineValue to the
// caller of whichever operation received the foreign value.
func (c *Context) asLua(v engine.Value) (lua.LValue, error) {
	if v == nil {
		return lua.LNil, nil
	}
	lvv, ok := v.(*Value)
	if !ok || lvv.ctx != c {
		return nil, engine.ErrCrossEngineValue
	}
	return lvv.lv, nil
}

func (c *Context) Close() {
	c.L.Close()
}

// SetTimeout bounds the next Eval/Call sequence to d, returning a func that
// must be called afterward to lift the bound. engine.Backend (spec §4.2) is
// deliberately exact about the operations every backend must expose and says
// nothing about wall-clock limits, so this is an optional capability a host
// discovers via type assertion rather than a Backend method — the same
// pattern as io.ReaderFrom.
//
// Grounded on the teacher's executeScript (internal/lua/engine.go), which
// wraps every script invocation in a context.WithTimeout. That pattern
// kills the whole VM on timeout because the teacher builds a fresh
// newSandboxedVM per invocation; this Context's VM is long-lived across the
// entire process (timers and RAF callbacks keep calling into it frame after
// frame), so killing it on timeout would take the runtime down with it.
// Instead this relies on gopher-lua's cooperative context check in its
// instruction-dispatch loop (LState.SetContext) and is meant to bound only
// the one call that can hang before the frame loop ever starts: the entry
// module's top-level evaluation (internal/host.evalEntry). Per-frame timer
// and RAF callbacks are not wrapped — a single misbehaving callback could
// still stall a frame, but that is the same hazard spec.md already accepts
// for "an in-flight fire is not aborted" (spec §5).
func (c *Context) SetTimeout(d time.Duration) func() {
	if d <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	c.L.SetContext(ctx)
	return func() {
		cancel()
		c.L.SetContext(context.Background())
	}
}

var _ engine.Backend = (*Context)(nil)

func (c *Context) errf(format string, args ...any) error {
	return fmt.Errorf("luabackend: "+format, args...)
}
