package modsys

import (
	"path/filepath"
	"testing"

	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/engine/luabackend"
)

func newTestBackend(t *testing.T) *luabackend.Context {
	t.Helper()
	return luabackend.New(luabackend.Options{})
}

func TestLoaderCJSModuleExports(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "greeter.js"), `module.exports = { greeting = "hi" }`)

	backend := newTestBackend(t)
	defer backend.Close()

	l := NewLoader(New(root, nil, nil), backend, nil)
	exports, err := l.Require("./greeter.js", root)
	if err != nil {
		t.Fatal(err)
	}
	if backend.TypeOf(exports) != engine.KindObject {
		t.Fatalf("expected object exports, got %v", backend.TypeOf(exports))
	}
}

func TestLoaderCachesByAbsolutePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "counter.js"), `
counter_runs = (counter_runs or 0) + 1
module.exports = { value = counter_runs }
`)

	backend := newTestBackend(t)
	defer backend.Close()

	l := NewLoader(New(root, nil, nil), backend, nil)

	first, err := l.Require("./counter.js", root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Require("./counter.js", root)
	if err != nil {
		t.Fatal(err)
	}

	v1, _ := backend.GetProperty(first, "value")
	v2, _ := backend.GetProperty(second, "value")
	n1, _ := backend.ToNumber(v1)
	n2, _ := backend.ToNumber(v2)
	if n1 != n2 {
		t.Fatalf("expected cached module body to run once, got %v then %v", n1, n2)
	}
}

func TestLoaderRequireChain(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.js"), `
local b = require("./b.js")
module.exports = { fromB = b.value }
`)
	writeFile(t, filepath.Join(root, "b.js"), `module.exports = { value = 42 }`)

	backend := newTestBackend(t)
	defer backend.Close()

	l := NewLoader(New(root, nil, nil), backend, nil)
	exports, err := l.Require("./a.js", root)
	if err != nil {
		t.Fatal(err)
	}
	v, err := backend.GetProperty(exports, "fromB")
	if err != nil {
		t.Fatal(err)
	}
	n, err := backend.ToNumber(v)
	if err != nil {
		t.Fatal(err)
	}
	if n != 42 {
		t.Fatalf("expected 42, got %v", n)
	}
}

func TestLoaderJSONAsModuleExports(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.json"), `{"name": "widget", "count": 3}`)

	backend := newTestBackend(t)
	defer backend.Close()

	l := NewLoader(New(root, nil, nil), backend, nil)
	exports, err := l.Require("./data.json", root)
	if err != nil {
		t.Fatal(err)
	}
	v, err := backend.GetProperty(exports, "count")
	if err != nil {
		t.Fatal(err)
	}
	n, err := backend.ToNumber(v)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected count=3, got %v", n)
	}
}

func TestClearCachesReloadsBody(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "version.js")
	writeFile(t, path, `module.exports = { v = 1 }`)

	backend := newTestBackend(t)
	defer backend.Close()

	l := NewLoader(New(root, nil, nil), backend, nil)
	first, err := l.Require("./version.js", root)
	if err != nil {
		t.Fatal(err)
	}
	v1, _ := backend.GetProperty(first, "v")
	n1, _ := backend.ToNumber(v1)
	if n1 != 1 {
		t.Fatalf("expected v=1, got %v", n1)
	}

	writeFile(t, path, `module.exports = { v = 2 }`)
	l.ClearCaches()

	second, err := l.Require("./version.js", root)
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := backend.GetProperty(second, "v")
	n2, _ := backend.ToNumber(v2)
	if n2 != 2 {
		t.Fatalf("expected reloaded v=2, got %v", n2)
	}
}
