package modsys

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeBundle struct {
	files map[string][]byte
	entry string
}

func (b *fakeBundle) Has(path string) bool { _, ok := b.files[path]; return ok }
func (b *fakeBundle) Read(path string) ([]byte, error) {
	data, ok := b.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}
func (b *fakeBundle) EntryPoint() (string, bool) {
	if b.entry == "" {
		return "", false
	}
	return b.entry, true
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveRelative(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "lib", "math.js"), "module.exports = {}")

	r := New(root, nil, nil)

	t.Run("exact extension", func(t *testing.T) {
		loc, err := r.Resolve("./math.js", filepath.Join(root, "lib"))
		if err != nil {
			t.Fatal(err)
		}
		if loc.Format != FormatCJS {
			t.Fatalf("expected CJS, got %v", loc.Format)
		}
	})

	t.Run("extension search order", func(t *testing.T) {
		loc, err := r.Resolve("./math", filepath.Join(root, "lib"))
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Ext(loc.Path) != ".js" {
			t.Fatalf("expected .js resolved, got %s", loc.Path)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := r.Resolve("./missing", filepath.Join(root, "lib")); err == nil {
			t.Fatal("expected error for missing module")
		}
	})
}

func TestResolveDirectoryIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "index.js"), "module.exports = 1")

	r := New(root, nil, nil)
	loc, err := r.Resolve("./pkg", root)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(loc.Path) != "index.js" {
		t.Fatalf("expected index.js, got %s", loc.Path)
	}
}

func TestResolveBarePackageMain(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "widgets")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{"name":"widgets","main":"lib/entry.js"}`)
	writeFile(t, filepath.Join(pkgDir, "lib", "entry.js"), "module.exports = {}")

	r := New(root, nil, nil)
	loc, err := r.Resolve("widgets", root)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(loc.Path) != "entry.js" {
		t.Fatalf("expected entry.js via main field, got %s", loc.Path)
	}
}

func TestResolveBareExportsSubpath(t *testing.T) {
	root := t.TempDir()
	pkgDir := filepath.Join(root, "node_modules", "widgets")
	writeFile(t, filepath.Join(pkgDir, "package.json"), `{
		"name":"widgets",
		"exports": {".": "./index.js", "./feature/*": "./src/*.js"}
	}`)
	writeFile(t, filepath.Join(pkgDir, "index.js"), "module.exports = {}")
	writeFile(t, filepath.Join(pkgDir, "src", "foo.js"), "module.exports = {}")

	r := New(root, nil, nil)

	t.Run("root export", func(t *testing.T) {
		loc, err := r.Resolve("widgets", root)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(loc.Path) != "index.js" {
			t.Fatalf("expected index.js, got %s", loc.Path)
		}
	})

	t.Run("wildcard subpath export", func(t *testing.T) {
		loc, err := r.Resolve("widgets/feature/foo", root)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(loc.Path) != "foo.js" {
			t.Fatalf("expected foo.js via wildcard export, got %s", loc.Path)
		}
	})
}

func TestBundlePreferredOverDisk(t *testing.T) {
	root := t.TempDir()
	diskPath := filepath.Join(root, "main.js")
	writeFile(t, diskPath, "module.exports = 'disk'")

	bundle := &fakeBundle{files: map[string][]byte{diskPath: []byte("module.exports = 'bundle'")}}
	r := New(root, bundle, nil)

	loc, err := r.Resolve("./main.js", root)
	if err != nil {
		t.Fatal(err)
	}
	if !loc.InBundle {
		t.Fatal("expected bundle entry to be preferred over disk")
	}
}

func TestFormatDetection(t *testing.T) {
	cases := []struct {
		path string
		typ  string
		want Format
	}{
		{"a.mjs", "", FormatESM},
		{"a.cjs", "module", FormatCJS},
		{"a.json", "", FormatJSON},
		{"a.js", "", FormatCJS},
		{"a.js", "module", FormatESM},
	}
	for _, c := range cases {
		if got := detectFormat(c.path, c.typ); got != c.want {
			t.Errorf("detectFormat(%s, %q) = %v, want %v", c.path, c.typ, got, c.want)
		}
	}
}

func TestNoTranspilerFailsDescriptively(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "mod.ts"), "export const x = 1")

	backend := newTestBackend(t)
	defer backend.Close()

	r := New(root, nil, nil)
	l := NewLoader(r, backend, nil)

	if _, err := l.Require("./mod.ts", root); err == nil {
		t.Fatal("expected error when no transpiler is configured")
	}
}
