package luabackend

import (
	"strings"

	"github.com/mystral-run/mystral/internal/engine"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Eval parses and compiles src to a lua.FunctionProto, then loads and runs
// it on the Context's single shared VM, grounded on the teacher's
// compileScriptAs (parse.Parse + lua.Compile) and executeScript
// (NewFunctionFromProto + PCall) in internal/lua/engine.go.
//
// ModeClassic and ModeModule compile identically under gopher-lua; the
// distinction exists so callers (internal/modsys) can tag CJS wrapper bodies
// versus top-level module bodies without the backend needing to know which.
func (c *Context) Eval(src, name string, mode engine.Mode) (engine.Value, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, c.errf("parse %s: %v", name, err)
	}

	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, c.errf("compile %s: %v", name, err)
	}

	c.mu.Lock()
	L := c.L
	c.mu.Unlock()

	lfunc := L.NewFunctionFromProto(proto)
	L.Push(lfunc)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		c.Throw(c.NewString(err.Error()))
		return nil, c.errf("eval %s: %v", name, err)
	}

	if L.GetTop() == 0 {
		return c.Undefined(), nil
	}
	ret := L.Get(-1)
	L.SetTop(0)
	return c.wrap(ret), nil
}
