package luabackend

import "github.com/mystral-run/mystral/internal/engine"

// SetGlobal and GetGlobal expose gopher-lua's own global table, which the
// runtime host uses to install console/setTimeout/fetch/etc. at the top
// level every script body runs under (spec §4.5).
func (c *Context) SetGlobal(name string, v engine.Value) error {
	lv, err := c.asLua(v)
	if err != nil {
		return err
	}
	c.L.SetGlobal(name, lv)
	return nil
}

func (c *Context) GetGlobal(name string) (engine.Value, error) {
	return c.wrap(c.L.GetGlobal(name)), nil
}
