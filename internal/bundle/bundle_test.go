package bundle

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	execPath := filepath.Join(dir, "app")
	if err := os.WriteFile(execPath, []byte("#!fake-executable-prefix"), 0o755); err != nil {
		t.Fatal(err)
	}

	sources := []Source{
		{Path: "main.js", Data: []byte("console.log('hi')")},
		{Path: "lib/util.js", Data: []byte("module.exports = {}")},
	}

	outPath := filepath.Join(dir, "app.bundled")
	if err := Compile(execPath, outPath, sources, "main.js"); err != nil {
		t.Fatal(err)
	}

	d, err := Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	t.Run("entry point recorded", func(t *testing.T) {
		entry, ok := d.EntryPoint()
		if !ok || entry != "main.js" {
			t.Fatalf("expected entry main.js, got %q ok=%v", entry, ok)
		}
	})

	t.Run("reads back bytes", func(t *testing.T) {
		data, err := d.Read("main.js")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, []byte("console.log('hi')")) {
			t.Fatalf("unexpected bytes: %q", data)
		}
	})

	t.Run("normalizes lookup path", func(t *testing.T) {
		if !d.Has("./lib/util.js") {
			t.Fatal("expected ./lib/util.js to normalize to lib/util.js")
		}
		data, err := d.Read("lib/util.js")
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "module.exports = {}" {
			t.Fatalf("unexpected bytes: %q", data)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		if _, err := d.Read("nope.js"); err == nil {
			t.Fatal("expected error for missing path")
		}
	})
}

func TestOpenNoBundlePresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	if err := os.WriteFile(path, []byte("just a regular file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path); err != ErrNoBundle {
		t.Fatalf("expected ErrNoBundle, got %v", err)
	}
}

func TestOpenMalformedFooterVersion(t *testing.T) {
	dir := t.TempDir()
	execPath := filepath.Join(dir, "app")
	os.WriteFile(execPath, []byte("prefix"), 0o755)
	outPath := filepath.Join(dir, "app.bundled")

	if err := Compile(execPath, outPath, []Source{{Path: "a.js", Data: []byte("x")}}, "a.js"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	// Walk backward via FOOTER_OFFSET to the appended region's start, then
	// corrupt the version word that immediately follows MAGIC there.
	size := int64(len(data))
	footerOffset := binary.LittleEndian.Uint64(data[size-footerSize:])
	appendedStart := (size - footerSize) - int64(footerOffset)
	versionOffset := appendedStart + 8
	data[versionOffset] = 0xFF
	if err := os.WriteFile(outPath, data, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(outPath); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
