package luabackend

import (
	"github.com/mystral-run/mystral/internal/engine"
	lua "github.com/yuin/gopher-lua"
)

// NewFunction wraps a native Go callable as a script-visible function,
// matching the teacher's pattern of injecting Go closures as
// L.NewFunction(...) entries into the goop.* table (internal/lua/sandbox.go).
//
// gopher-lua has no colon-call receiver binding for the plain dot-call
// convention every host global uses (console.log(...), setTimeout(...),
// promise.then(...)), so there is no Lua-side "this" value to recover here.
// this is always Undefined; NativeFunc keeps the parameter for API parity
// with engine.Backend's call shape.
func (c *Context) NewFunction(fn engine.NativeFunc) engine.Value {
	gfn := func(L *lua.LState) int {
		top := L.GetTop()
		args := make([]engine.Value, 0, top)
		for i := 1; i <= top; i++ {
			args = append(args, c.wrap(L.Get(i)))
		}

		ret, err := fn(c.Undefined(), args)
		if err != nil {
			c.Throw(c.NewString(err.Error()))
			L.RaiseError("%s", err.Error())
			return 0
		}
		if ret == nil {
			return 0
		}
		lv, convErr := c.asLua(ret)
		if convErr != nil {
			return 0
		}
		L.Push(lv)
		return 1
	}
	return c.wrap(c.L.NewFunction(gfn))
}

// Call invokes fn with the given argument vector (spec §4.2). this is
// accepted for API parity with engine.Backend but not pushed onto the Lua
// stack: gopher-lua's dot-call convention has no receiver slot, and every
// caller in this codebase (the module loader's CJS wrapper, timers, RAF,
// promise settlement) already passes exactly the arguments the target
// function's own parameter list expects.
func (c *Context) Call(fn engine.Value, this engine.Value, args []engine.Value) (engine.Value, error) {
	lfn, err := c.asLua(fn)
	if err != nil {
		return nil, err
	}
	lfnv, ok := lfn.(*lua.LFunction)
	if !ok {
		return nil, c.errf("Call: value is not callable")
	}

	c.L.Push(lfnv)
	nargs := 0
	for _, a := range args {
		lv, err := c.asLua(a)
		if err != nil {
			return nil, err
		}
		c.L.Push(lv)
		nargs++
	}

	if err := c.L.PCall(nargs, 1, nil); err != nil {
		c.Throw(c.NewString(err.Error()))
		return nil, c.errf("script exception: %v", err)
	}

	ret := c.L.Get(-1)
	c.L.Pop(1)
	return c.wrap(ret), nil
}
