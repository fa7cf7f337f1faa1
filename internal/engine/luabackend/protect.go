package luabackend

import "github.com/mystral-run/mystral/internal/engine"

// Protect roots v against GC by bumping a refcount keyed on value identity.
// gopher-lua's pointer-backed LValue types (*LTable, *LFunction, *LUserData)
// are directly comparable, so no separate handle-id layer is needed — the
// LValue itself is the map key (spec §3 invariants).
func (c *Context) Protect(v engine.Value) engine.Value {
	lv, err := c.asLua(v)
	if err != nil {
		return v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protected[lv]++
	return v
}

// Unprotect releases one reference taken by Protect. Calls must balance
// one-to-one with Protect calls (spec §8 "Callback balance"); an unmatched
// Unprotect is a no-op rather than a panic, since the host cannot always
// prove balance statically.
func (c *Context) Unprotect(v engine.Value) {
	lv, err := c.asLua(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.protected[lv]; ok {
		if n <= 1 {
			delete(c.protected, lv)
		} else {
			c.protected[lv] = n - 1
		}
	}
}

// SetPrivate pairs obj with a native Go pointer, e.g. a GPU texture or audio
// source node (spec §4.2 Semantics).
func (c *Context) SetPrivate(obj engine.Value, ptr any) {
	lv, err := c.asLua(obj)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private[lv] = ptr
}

func (c *Context) GetPrivate(obj engine.Value) (any, bool) {
	lv, err := c.asLua(obj)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ptr, ok := c.private[lv]
	return ptr, ok
}

// PendingException returns the last thrown-but-uncaught exception.
func (c *Context) PendingException() (engine.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, false
	}
	return c.pending, true
}

func (c *Context) ClearException() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

func (c *Context) Throw(v engine.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = v
}
