package luabackend

import (
	"github.com/mystral-run/mystral/internal/engine"
	lua "github.com/yuin/gopher-lua"
)

// Value is the luabackend's concrete engine.Value: an engine-specific
// pointer (lv) paired with its owning engine-context pointer (ctx), per
// spec §3's "script value handle".
type Value struct {
	ctx *Context
	lv  lua.LValue
}

func (v *Value) Backend() engine.Backend { return v.ctx }

func (c *Context) Undefined() engine.Value { return c.wrap(lua.LNil) }
func (c *Context) Null() engine.Value      { return c.wrap(lua.LNil) }

func (c *Context) NewBool(b bool) engine.Value {
	return c.wrap(lua.LBool(b))
}

func (c *Context) NewNumber(n float64) engine.Value {
	return c.wrap(lua.LNumber(n))
}

func (c *Context) NewString(s string) engine.Value {
	return c.wrap(lua.LString(s))
}

func (c *Context) NewObject() engine.Value {
	return c.wrap(c.L.NewTable())
}

func (c *Context) NewArray(length int) engine.Value {
	t := c.L.CreateTable(length, 0)
	markArray(c.L, t)
	return c.wrap(t)
}

func (c *Context) ToBool(v engine.Value) bool {
	lv, err := c.asLua(v)
	if err != nil {
		return false
	}
	return lua.LVAsBool(lv)
}

func (c *Context) ToNumber(v engine.Value) (float64, error) {
	lv, err := c.asLua(v)
	if err != nil {
		return 0, err
	}
	n, ok := lv.(lua.LNumber)
	if ok {
		return float64(n), nil
	}
	if s, ok := lv.(lua.LString); ok {
		if n, err := lua.ParseNumber(string(s)); err == nil {
			return float64(n), nil
		}
	}
	return 0, c.errf("value is not convertible to a number")
}

func (c *Context) ToString(v engine.Value) (string, error) {
	lv, err := c.asLua(v)
	if err != nil {
		return "", err
	}
	return lv.String(), nil
}

func (c *Context) TypeOf(v engine.Value) engine.Kind {
	lv, err := c.asLua(v)
	if err != nil {
		return engine.KindUndefined
	}
	if lv == lua.LNil {
		return engine.KindNull
	}
	switch t := lv.(type) {
	case lua.LBool:
		return engine.KindBool
	case lua.LNumber:
		return engine.KindNumber
	case lua.LString:
		return engine.KindString
	case *lua.LFunction:
		return engine.KindFunction
	case *lua.LTable:
		if isArrayTable(t) {
			return engine.KindArray
		}
		return engine.KindObject
	case *lua.LUserData:
		return engine.KindObject
	default:
		return engine.KindUndefined
	}
}

// isArrayTable reports whether t was produced by NewArray. Only the
// "__mystral_array" metafield NewArray sets is checked; the table's keys
// are not inspected (Lua arrays are conventionally 1-based tables, so
// contents alone cannot tell an array from an object).
func isArrayTable(t *lua.LTable) bool {
	mt := t.Metatable
	if mt == lua.LNil {
		return false
	}
	mtbl, ok := mt.(*lua.LTable)
	if !ok {
		return false
	}
	return lua.LVAsBool(mtbl.RawGetString("__mystral_array"))
}

func markArray(L *lua.LState, t *lua.LTable) {
	mt := L.NewTable()
	mt.RawSetString("__mystral_array", lua.LTrue)
	t.Metatable = mt
}
