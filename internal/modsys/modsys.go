// Package modsys implements the Node-style module resolver and CJS/ESM/JSON
// loader described in spec.md §4.4: relative/bare-specifier resolution,
// package-manifest exports/imports/main fields, extension search order, CJS
// source wrapping, and embedded-bundle preference over disk.
//
// Grounded on the teacher's internal/lua.Engine.scanDir/compileScriptAs
// (directory scan, proto cache keyed by name, hot reload via the same
// fsnotify watcher the event loop already owns) for the on-disk half, and
// internal/content.Store's cleanAbs/ErrOutsideRoot confinement style for the
// root-relative path safety rules. The exports/imports conditional-resolve
// walk and CJS wrapper synthesis are new work with no teacher analogue.
package modsys

import "errors"

// Format names the module body shape a Loader produced after resolution.
type Format int

const (
	FormatCJS Format = iota
	FormatESM
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatCJS:
		return "cjs"
	case FormatESM:
		return "esm"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// Location is a resolved module: either a disk path or a bundle-relative
// path recorded in the embedded bundle's directory (spec.md §4.4, §6).
type Location struct {
	Path     string // absolute disk path, or bundle-internal path when InBundle
	InBundle bool
	Format   Format
}

// BundleSource is the read side of an embedded bundle (internal/bundle),
// kept as an interface here so modsys never imports bundle's concrete
// encoder/writer types — only the lookup surface the resolver needs.
type BundleSource interface {
	Has(path string) bool
	Read(path string) ([]byte, error)
	EntryPoint() (string, bool)
}

// ErrNotFound is returned when no candidate (disk or bundle) exists for a
// specifier under any extension/format the resolver tries.
var ErrNotFound = errors.New("modsys: module not found")

// ErrNoTranspiler is returned for .ts/.tsx sources when no transpiler hook
// was configured (spec.md §4.4: "loading fails with a descriptive error").
var ErrNoTranspiler = errors.New("modsys: no TypeScript transpiler configured")

// extOrder is the file-extension search order from spec.md §4.4.
var extOrder = []string{"", ".ts", ".tsx", ".mjs", ".cjs", ".js", ".json"}
