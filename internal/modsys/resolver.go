package modsys

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// manifest is the subset of package.json the resolver reads.
type manifest struct {
	Name    string                     `json:"name"`
	Type    string                     `json:"type"`
	Main    string                     `json:"main"`
	Exports map[string]json.RawMessage `json:"exports"`
	Imports map[string]json.RawMessage `json:"imports"`
	dir     string                     // directory the manifest was loaded from
}

// TranspileFunc converts TypeScript source to plain script text. The host
// wires this to an external transpiler if one is available (spec.md §4.4:
// ".ts/.tsx transpiled ... by an external transpiler if available").
type TranspileFunc func(src, path string) (string, error)

// Resolver implements the three-rule specifier resolution from spec.md §4.4:
// relative, bare (node_modules walk with manifest exports/imports/main), and
// asset://-or-bundle-directory.
type Resolver struct {
	root      string // project root; referrer fallback when none supplied
	bundle    BundleSource
	transpile TranspileFunc

	manifestCache map[string]*manifest // dir -> nearest manifest found starting there
}

func New(root string, bundle BundleSource, transpile TranspileFunc) *Resolver {
	return &Resolver{
		root:          filepath.Clean(root),
		bundle:        bundle,
		transpile:     transpile,
		manifestCache: make(map[string]*manifest),
	}
}

// Resolve implements spec.md §4.4 rules 1-3, in order, returning a Location
// whose Format reflects the detection rules that follow resolution. It is
// pure given the filesystem/bundle snapshot at call time (spec §8 "Resolver
// determinism").
func (r *Resolver) Resolve(specifier, referrerDir string) (Location, error) {
	if referrerDir == "" {
		referrerDir = r.root
	}

	if strings.HasPrefix(specifier, "asset://") {
		p := strings.TrimPrefix(specifier, "asset://")
		if r.bundle != nil && r.bundle.Has(p) {
			return Location{Path: p, InBundle: true, Format: detectFormat(p, "")}, nil
		}
		return Location{}, fmt.Errorf("%w: %s", ErrNotFound, specifier)
	}

	if isRelative(specifier) {
		base := specifier
		if !filepath.IsAbs(specifier) {
			base = filepath.Join(referrerDir, specifier)
		}
		return r.resolveFileOrDir(base)
	}

	return r.resolveBare(specifier, referrerDir)
}

func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") ||
		specifier == "." || specifier == ".." || filepath.IsAbs(specifier)
}

// resolveFileOrDir tries base as an exact/extension-suffixed file, then as a
// directory's index.* (spec.md §4.4 rule 1 tail).
func (r *Resolver) resolveFileOrDir(base string) (Location, error) {
	if loc, ok := r.tryFile(base); ok {
		return loc, nil
	}
	if st, err := os.Stat(base); err == nil && st.IsDir() {
		if loc, ok := r.tryFile(filepath.Join(base, "index")); ok {
			return loc, nil
		}
	}
	return Location{}, fmt.Errorf("%w: %s", ErrNotFound, base)
}

// tryFile checks base under the extension search order, preferring a
// matching bundle entry over disk when both exist (spec §8 "Bundle
// preference").
func (r *Resolver) tryFile(base string) (Location, bool) {
	for _, ext := range extOrder {
		candidate := base + ext
		if r.bundle != nil && r.bundle.Has(candidate) {
			return Location{Path: candidate, InBundle: true, Format: detectFormat(candidate, "")}, true
		}
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			format := detectFormat(candidate, r.manifestTypeFor(filepath.Dir(candidate)))
			return Location{Path: candidate, Format: format}, true
		}
	}
	return Location{}, false
}

// resolveBare walks ancestor node_modules-style package folders, inspecting
// each candidate package's manifest for exports/imports/main (spec.md §4.4
// rule 2).
func (r *Resolver) resolveBare(specifier, referrerDir string) (Location, error) {
	if strings.HasPrefix(specifier, "#") {
		if loc, ok := r.resolveImportsMap(specifier, referrerDir); ok {
			return loc, nil
		}
		return Location{}, fmt.Errorf("%w: %s", ErrNotFound, specifier)
	}

	pkgName, subpath := splitPackageSpecifier(specifier)

	for dir := referrerDir; ; {
		pkgDir := filepath.Join(dir, "node_modules", pkgName)
		if st, err := os.Stat(pkgDir); err == nil && st.IsDir() {
			if loc, ok := r.resolveWithinPackage(pkgDir, subpath); ok {
				return loc, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Location{}, fmt.Errorf("%w: %s", ErrNotFound, specifier)
}

// splitPackageSpecifier separates a bare specifier into its package name
// (honoring @scope/name) and the remaining subpath, e.g. "lodash/fp" ->
// ("lodash", "fp"), "@scope/pkg/sub" -> ("@scope/pkg", "sub").
func splitPackageSpecifier(specifier string) (pkgName, subpath string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		pkgName = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return
	}
	pkgName = parts[0]
	if len(parts) > 1 {
		subpath = strings.Join(parts[1:], "/")
	}
	return
}

func (r *Resolver) resolveWithinPackage(pkgDir, subpath string) (Location, bool) {
	m := r.loadManifest(pkgDir)

	if m != nil && len(m.Exports) > 0 {
		key := "."
		if subpath != "" {
			key = "./" + subpath
		}
		if target, ok := matchExportsKey(m.Exports, key); ok {
			return r.tryFile(filepath.Join(pkgDir, target))
		}
	}

	if subpath != "" {
		return r.tryFile(filepath.Join(pkgDir, subpath))
	}

	if m != nil && m.Main != "" {
		if loc, ok := r.tryFile(filepath.Join(pkgDir, m.Main)); ok {
			return loc, true
		}
	}
	return r.tryFile(filepath.Join(pkgDir, "index"))
}

// matchExportsKey resolves a conditional exports map entry. Supports exact
// keys, single-"*" subpath patterns, and the "import"/"require"/"default"
// condition names nested one level deep under a key.
func matchExportsKey(exportsMap map[string]json.RawMessage, key string) (string, bool) {
	if raw, ok := exportsMap[key]; ok {
		if s, ok := rawToTarget(raw); ok {
			return s, true
		}
	}
	for pattern, raw := range exportsMap {
		idx := strings.IndexByte(pattern, '*')
		if idx < 0 {
			continue
		}
		prefix, suffix := pattern[:idx], pattern[idx+1:]
		if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
			match := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
			if s, ok := rawToTarget(raw); ok {
				return strings.Replace(s, "*", match, 1), true
			}
		}
	}
	return "", false
}

// rawToTarget unwraps a raw exports-map value: either a plain string target,
// or a conditions object from which "import"/"require"/"default" is picked
// (in that preference order, since the resolver does not track ESM/CJS
// context at resolve time).
func rawToTarget(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, cond := range []string{"import", "require", "default"} {
			if inner, ok := obj[cond]; ok {
				var s string
				if err := json.Unmarshal(inner, &s); err == nil {
					return s, true
				}
			}
		}
	}
	return "", false
}

func (r *Resolver) resolveImportsMap(specifier, referrerDir string) (Location, bool) {
	for dir := referrerDir; ; {
		m := r.loadManifest(dir)
		if m != nil && len(m.Imports) > 0 {
			if target, ok := matchExportsKey(m.Imports, specifier); ok {
				return r.tryFile(filepath.Join(m.dir, target))
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Location{}, false
}

// loadManifest reads dir/package.json if present, caching by directory.
func (r *Resolver) loadManifest(dir string) *manifest {
	if m, ok := r.manifestCache[dir]; ok {
		return m
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		r.manifestCache[dir] = nil
		return nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		r.manifestCache[dir] = nil
		return nil
	}
	m.dir = dir
	r.manifestCache[dir] = &m
	return &m
}

// manifestTypeFor walks upward from dir to the nearest package.json and
// returns its "type" field, used to disambiguate plain .js format.
func (r *Resolver) manifestTypeFor(dir string) string {
	for d := dir; ; {
		if m := r.loadManifest(d); m != nil {
			return m.Type
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// detectFormat implements spec.md §4.4's format-detection precedence.
func detectFormat(path, nearestType string) Format {
	switch filepath.Ext(path) {
	case ".mjs":
		return FormatESM
	case ".cjs":
		return FormatCJS
	case ".json":
		return FormatJSON
	case ".ts", ".tsx":
		return FormatCJS // pre-transpile; always CJS, whatever the manifest's "type"
	default:
		if nearestType == "module" {
			return FormatESM
		}
		return FormatCJS
	}
}

// ClearManifestCache drops cached package.json lookups, used by
// clearCaches() on hot reload (spec.md §4.4).
func (r *Resolver) ClearManifestCache() {
	r.manifestCache = make(map[string]*manifest)
}
