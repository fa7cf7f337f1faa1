package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mystral-run/mystral/internal/util"
)

// Source is one file to embed: a normalized directory path plus its bytes.
type Source struct {
	Path string
	Data []byte
}

// Write appends the magic/version/directory/blob/footer region to w for
// every src, recording entry as the bundle's entry-point path. The layout
// matches spec.md §6's bit-exact wire format exactly: directory first
// (entry path, count, then per-entry path/offset/size with offsets
// relative to the blob base), blobs concatenated after, and a single
// trailing u64 FOOTER_OFFSET giving the appended region's length so a
// reader can walk backward from EOF to find MAGIC again.
func Write(w io.Writer, sources []Source, entry string) error {
	sorted := append([]Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	buf.Write(magic[:])
	if err := binary.Write(&buf, binary.LittleEndian, formatVersion); err != nil {
		return fmt.Errorf("bundle: write version: %w", err)
	}

	entryPath := util.NormalizeBundlePath(entry)
	if err := writeLenPrefixedString(&buf, entryPath); err != nil {
		return fmt.Errorf("bundle: write entry path: %w", err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(sorted))); err != nil {
		return fmt.Errorf("bundle: write entry count: %w", err)
	}

	blobOffset := uint64(0)
	for _, s := range sorted {
		path := util.NormalizeBundlePath(s.Path)
		if err := writeLenPrefixedString(&buf, path); err != nil {
			return fmt.Errorf("bundle: write directory entry: %w", err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, blobOffset); err != nil {
			return fmt.Errorf("bundle: write offset: %w", err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(s.Data))); err != nil {
			return fmt.Errorf("bundle: write size: %w", err)
		}
		blobOffset += uint64(len(s.Data))
	}

	for _, s := range sorted {
		buf.Write(s.Data)
	}

	footerOffset := uint64(buf.Len())

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("bundle: write region: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, footerOffset); err != nil {
		return fmt.Errorf("bundle: write footer: %w", err)
	}
	return nil
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

// Compile appends a bundle containing sources to the executable at
// execPath, producing outPath as a self-contained copy. Grounded on the
// teacher's main.go subcommand dispatch shape (flag.Parse() then switch on
// args[0]): this is the implementation behind the "compile" CLI
// subcommand.
func Compile(execPath, outPath string, sources []Source, entry string) error {
	exe, err := os.ReadFile(execPath)
	if err != nil {
		return fmt.Errorf("bundle: read executable %s: %w", execPath, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", outPath, err)
	}
	defer out.Close()

	if _, err := out.Write(exe); err != nil {
		return fmt.Errorf("bundle: write executable prefix: %w", err)
	}

	if err := Write(out, sources, entry); err != nil {
		return err
	}
	return os.Chmod(outPath, 0o755)
}
