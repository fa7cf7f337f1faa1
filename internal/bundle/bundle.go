// Package bundle implements the embedded-bundle trailer format from
// spec.md §4.8/§6: a compiled executable may carry a trailing region
// (magic, version, directory, blob, footer) appended after its own code,
// letting a single binary ship its own scripts/assets without an external
// filesystem tree.
//
// No exact analogue exists in the example corpus — the teacher instead
// uses go:embed for its frontend assets (internal/ui/assets,
// internal/sitetemplates/embed.go, internal/luaprefabs/embed.go), a
// build-time embed rather than a runtime-appended trailer. The wire format
// is pinned bit-exact by spec.md §6 and is encoded with the standard
// library's encoding/binary since no ecosystem serialization library fits
// a fixed footer-scan format better (see DESIGN.md).
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mystral-run/mystral/internal/util"
)

// magic is scanned for from the end of the executable file to detect a
// trailing bundle (spec.md §4.8 "scan the executable file for the magic
// from the end").
var magic = [8]byte{'M', 'Y', 'S', 'T', 'R', 'L', 'B', '1'}

const formatVersion uint32 = 1

// footerSize is the trailing FOOTER_OFFSET field's width (spec.md §6):
// a single little-endian u64, nothing else.
const footerSize = 8

// Entry is one directory record: a normalized path mapped to its byte
// range within the blob section (offsets are blob-relative, per spec.md
// §6 "offset measured from the blob base").
type Entry struct {
	Path   string
	Offset uint64
	Size   uint64
}

// ErrNoBundle means the file has no trailing bundle magic — not an error
// condition for callers, just "nothing to attach".
var ErrNoBundle = errors.New("bundle: no embedded bundle present")

// ErrMalformed corresponds to spec.md §7's BundleError: "malformed
// footer/directory; bundle ignored; runtime falls back to disk resolution".
var ErrMalformed = errors.New("bundle: malformed footer or directory")

// Directory is the read side of an embedded bundle: satisfies both
// modsys.BundleSource and iodispatch.AssetSource structurally.
type Directory struct {
	file     *os.File
	index    map[string]Entry
	entry    string // recorded entry-point path, "" if none
	blobBase int64  // absolute file offset where the blob section starts
}

// Open scans execPath for a trailing bundle by reading the final
// FOOTER_OFFSET word and walking backward to the appended region's start,
// per spec.md §6's reverse-scan layout. Returns ErrNoBundle if the magic
// doesn't check out there (the common case for a plain script-argument
// run), and ErrMalformed if the magic is present but the version or
// directory cannot be parsed (spec.md §7: the runtime falls back to disk
// resolution).
func Open(execPath string) (*Directory, error) {
	f, err := os.Open(execPath)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := st.Size()
	if size < footerSize+int64(len(magic)) {
		f.Close()
		return nil, ErrNoBundle
	}

	var footerOffset uint64
	if _, err := f.Seek(size-footerSize, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	if err := binary.Read(f, binary.LittleEndian, &footerOffset); err != nil {
		f.Close()
		return nil, ErrNoBundle
	}

	appendedStart := (size - footerSize) - int64(footerOffset)
	if appendedStart < 0 || appendedStart+int64(len(magic)) > size {
		f.Close()
		return nil, ErrNoBundle
	}

	if _, err := f.Seek(appendedStart, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	var gotMagic [8]byte
	if _, err := io.ReadFull(f, gotMagic[:]); err != nil {
		f.Close()
		return nil, ErrNoBundle
	}
	if gotMagic != magic {
		f.Close()
		return nil, ErrNoBundle
	}

	var version uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		f.Close()
		return nil, ErrMalformed
	}
	if version != formatVersion {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, version)
	}

	entryPath, err := readLenPrefixedString(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var count uint32
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	index := make(map[string]Entry, count)
	for i := uint32(0); i < count; i++ {
		path, err := readLenPrefixedString(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var offset, sz uint64
		if err := binary.Read(f, binary.LittleEndian, &offset); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := binary.Read(f, binary.LittleEndian, &sz); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		index[path] = Entry{Path: path, Offset: offset, Size: sz}
	}

	blobBase, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Directory{file: f, index: index, entry: entryPath, blobBase: blobBase}, nil
}

func readLenPrefixedString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Has reports whether path is present in the bundle directory. path is
// normalized before lookup (spec.md §4.8 "Paths are normalized ... before
// lookup").
func (d *Directory) Has(path string) bool {
	_, ok := d.index[util.NormalizeBundlePath(path)]
	return ok
}

// Read implements readEmbeddedFile(path) -> bytes (spec.md §4.8).
func (d *Directory) Read(path string) ([]byte, error) {
	e, ok := d.index[util.NormalizeBundlePath(path)]
	if !ok {
		return nil, fmt.Errorf("bundle: %s: %w", path, os.ErrNotExist)
	}
	buf := make([]byte, e.Size)
	if _, err := d.file.ReadAt(buf, d.blobBase+int64(e.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// EntryPoint returns the bundle's recorded entry script, if one was set at
// compile time (spec.md §4.8 "if no script argument is provided the
// recorded entry is used").
func (d *Directory) EntryPoint() (string, bool) {
	if d.entry == "" {
		return "", false
	}
	return d.entry, true
}

// Paths returns every normalized path in the directory, sorted, mainly for
// debugging/listing.
func (d *Directory) Paths() []string {
	paths := make([]string, 0, len(d.index))
	for p := range d.index {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Close releases the underlying file handle.
func (d *Directory) Close() error {
	return d.file.Close()
}
