package luabackend

import (
	"github.com/mystral-run/mystral/internal/engine"
	lua "github.com/yuin/gopher-lua"
)

func (c *Context) GetProperty(obj engine.Value, name string) (engine.Value, error) {
	lv, err := c.asLua(obj)
	if err != nil {
		return nil, err
	}
	switch t := lv.(type) {
	case *lua.LTable:
		return c.wrap(t.RawGetString(name)), nil
	case *lua.LUserData:
		if ta, ok := t.Value.(*typedArray); ok {
			switch name {
			case "length":
				return c.NewNumber(float64(ta.length)), nil
			case "byteLength":
				return c.NewNumber(float64(len(ta.data))), nil
			}
			return c.Undefined(), nil
		}
		return nil, c.errf("GetProperty: value is not an object")
	default:
		return nil, c.errf("GetProperty: value is not an object")
	}
}

func (c *Context) SetProperty(obj engine.Value, name string, v engine.Value) error {
	lv, err := c.asLua(obj)
	if err != nil {
		return err
	}
	tbl, ok := lv.(*lua.LTable)
	if !ok {
		return c.errf("SetProperty: value is not an object")
	}
	val, err := c.asLua(v)
	if err != nil {
		return err
	}
	tbl.RawSetString(name, val)
	return nil
}

func (c *Context) GetIndex(obj engine.Value, index int) (engine.Value, error) {
	lv, err := c.asLua(obj)
	if err != nil {
		return nil, err
	}
	switch t := lv.(type) {
	case *lua.LTable:
		return c.wrap(t.RawGetInt(index + 1)), nil // Lua arrays are 1-based
	case *lua.LUserData:
		if ta, ok := t.Value.(*typedArray); ok {
			return ta.get(c, index)
		}
		return nil, c.errf("GetIndex: userdata is not a typed array")
	default:
		return nil, c.errf("GetIndex: value is not indexable")
	}
}

func (c *Context) SetIndex(obj engine.Value, index int, v engine.Value) error {
	lv, err := c.asLua(obj)
	if err != nil {
		return err
	}
	switch t := lv.(type) {
	case *lua.LTable:
		val, err := c.asLua(v)
		if err != nil {
			return err
		}
		t.RawSetInt(index+1, val)
		return nil
	case *lua.LUserData:
		if ta, ok := t.Value.(*typedArray); ok {
			n, err := c.ToNumber(v)
			if err != nil {
				return err
			}
			return ta.set(index, n)
		}
		return c.errf("SetIndex: userdata is not a typed array")
	default:
		return c.errf("SetIndex: value is not indexable")
	}
}
