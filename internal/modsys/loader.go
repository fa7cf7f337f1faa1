package modsys

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mystral-run/mystral/internal/engine"
)

// Module is a loaded module's cache entry. loading is set while its body is
// still executing, so a cyclic require sees the partially-populated
// module.exports per Node semantics (spec.md §4.4 "Cyclic requires").
type Module struct {
	Location Location
	Exports  engine.Value
	loading  bool
}

// Loader ties a Resolver to a script Backend, implementing require()/import
// semantics, caching, and clearCaches() (spec.md §4.4). One Loader exists
// per runtime host instance, mirroring the teacher's one-Engine-per-process
// script-cache shape (internal/lua.Engine.scripts).
type Loader struct {
	resolver *Resolver
	backend  engine.Backend
	bundle   BundleSource

	mu    sync.Mutex
	cache map[string]*Module
}

func NewLoader(resolver *Resolver, backend engine.Backend, bundle BundleSource) *Loader {
	return &Loader{
		resolver: resolver,
		backend:  backend,
		bundle:   bundle,
		cache:    make(map[string]*Module),
	}
}

func cacheKey(loc Location) string {
	if loc.InBundle {
		return "bundle://" + loc.Path
	}
	return loc.Path
}

// Require resolves specifier against referrerDir and returns its exports
// value, loading and caching it on first use.
func (l *Loader) Require(specifier, referrerDir string) (engine.Value, error) {
	loc, err := l.resolver.Resolve(specifier, referrerDir)
	if err != nil {
		return nil, fmt.Errorf("modsys: require %q from %q: %w", specifier, referrerDir, err)
	}
	return l.load(loc)
}

func (l *Loader) load(loc Location) (engine.Value, error) {
	key := cacheKey(loc)

	l.mu.Lock()
	if m, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return m.Exports, nil // loading or complete: Node semantics return current exports either way
	}
	l.mu.Unlock()

	data, err := l.readSource(loc)
	if err != nil {
		return nil, err
	}
	source := string(data)

	switch filepath.Ext(loc.Path) {
	case ".ts", ".tsx":
		if l.resolver.transpile == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTranspiler, loc.Path)
		}
		source, err = l.resolver.transpile(source, loc.Path)
		if err != nil {
			return nil, fmt.Errorf("modsys: transpile %s: %w", loc.Path, err)
		}
	}

	switch loc.Format {
	case FormatJSON:
		return l.loadJSON(loc, key, source)
	default:
		return l.loadScriptBody(loc, key, source)
	}
}

func (l *Loader) readSource(loc Location) ([]byte, error) {
	if loc.InBundle {
		if l.bundle == nil {
			return nil, fmt.Errorf("modsys: %s is a bundle path but no bundle is attached", loc.Path)
		}
		return l.bundle.Read(loc.Path)
	}
	return readFile(loc.Path)
}

func (l *Loader) loadJSON(loc Location, key, source string) (engine.Value, error) {
	var parsed any
	if err := json.Unmarshal([]byte(source), &parsed); err != nil {
		return nil, fmt.Errorf("modsys: parse JSON %s: %w", loc.Path, err)
	}
	exports, err := JSONToValue(l.backend, parsed)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cache[key] = &Module{Location: loc, Exports: exports}
	l.mu.Unlock()
	return exports, nil
}

// loadScriptBody handles both CJS and ESM formats. gopher-lua has no native
// import/export syntax, so both are executed as a CJS-shaped module
// wrapper; ESM's distinct cycle semantics ("follow the engine's module
// semantics") collapse to the same cache-during-execution rule CJS uses,
// since the underlying engine draws no ESM/CJS distinction of its own. This
// is recorded as an explicit simplification in DESIGN.md.
func (l *Loader) loadScriptBody(loc Location, key, source string) (engine.Value, error) {
	moduleObj := l.backend.NewObject()
	exportsObj := l.backend.NewObject()
	if err := l.backend.SetProperty(moduleObj, "exports", exportsObj); err != nil {
		return nil, err
	}

	entry := &Module{Location: loc, Exports: exportsObj, loading: true}
	l.mu.Lock()
	l.cache[key] = entry
	l.mu.Unlock()

	dir := filepath.Dir(loc.Path)
	wrapped := "return function(exports, require, module, __filename, __dirname)\n" + source + "\nend"

	fnVal, err := l.backend.Eval(wrapped, loc.Path, engine.ModeClassic)
	if err != nil {
		l.mu.Lock()
		delete(l.cache, key)
		l.mu.Unlock()
		return nil, err
	}

	requireFn := l.backend.NewFunction(func(this engine.Value, args []engine.Value) (engine.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("modsys: require() needs a specifier argument")
		}
		spec, err := l.backend.ToString(args[0])
		if err != nil {
			return nil, err
		}
		return l.Require(spec, dir)
	})

	_, err = l.backend.Call(fnVal, l.backend.Undefined(), []engine.Value{
		exportsObj,
		requireFn,
		moduleObj,
		l.backend.NewString(loc.Path),
		l.backend.NewString(dir),
	})
	if err != nil {
		l.mu.Lock()
		delete(l.cache, key)
		l.mu.Unlock()
		return nil, err
	}

	finalExports, err := l.backend.GetProperty(moduleObj, "exports")
	if err != nil {
		finalExports = exportsObj
	}

	l.mu.Lock()
	entry.Exports = finalExports
	entry.loading = false
	l.mu.Unlock()

	return finalExports, nil
}

// JSONToValue converts a decoded encoding/json value into an engine.Value
// tree, wrapping it as the CJS module.exports a JSON file produces
// (spec.md §4.4 "JSON: parse and expose as module.exports").
func JSONToValue(b engine.Backend, v any) (engine.Value, error) {
	switch t := v.(type) {
	case nil:
		return b.Null(), nil
	case bool:
		return b.NewBool(t), nil
	case float64:
		return b.NewNumber(t), nil
	case string:
		return b.NewString(t), nil
	case []any:
		arr := b.NewArray(len(t))
		for i, elem := range t {
			ev, err := JSONToValue(b, elem)
			if err != nil {
				return nil, err
			}
			if err := b.SetIndex(arr, i, ev); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case map[string]any:
		obj := b.NewObject()
		for k, elem := range t {
			ev, err := JSONToValue(b, elem)
			if err != nil {
				return nil, err
			}
			if err := b.SetProperty(obj, k, ev); err != nil {
				return nil, err
			}
		}
		return obj, nil
	default:
		return b.Undefined(), nil
	}
}

// ClearCaches invalidates the module cache and the resolver's manifest
// cache, matching spec.md §4.4's clearCaches() on hot reload.
func (l *Loader) ClearCaches() {
	l.mu.Lock()
	l.cache = make(map[string]*Module)
	l.mu.Unlock()
	l.resolver.ClearManifestCache()
}

// EntryExports loads and returns the exports of the bundle's recorded entry
// point, if one exists (spec.md §4.4/§6: "if no script argument is provided
// the recorded entry is used").
func (l *Loader) EntryExports() (engine.Value, bool, error) {
	if l.bundle == nil {
		return nil, false, nil
	}
	entry, ok := l.bundle.EntryPoint()
	if !ok {
		return nil, false, nil
	}
	loc := Location{Path: entry, InBundle: true, Format: detectFormat(entry, "")}
	v, err := l.load(loc)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}
