package provenance

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndListCompiles(t *testing.T) {
	s := openTestStore(t)

	want := CompileManifest{
		OutPath:    "game.bin",
		Entry:      "main.js",
		FileCount:  3,
		TotalBytes: 4096,
		CompiledAt: time.Now(),
	}
	if err := s.RecordCompile(want); err != nil {
		t.Fatalf("RecordCompile: %v", err)
	}

	got, err := s.RecentCompiles(10)
	if err != nil {
		t.Fatalf("RecentCompiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].OutPath != want.OutPath || got[0].Entry != want.Entry {
		t.Errorf("got %+v, want out_path/entry %s/%s", got[0], want.OutPath, want.Entry)
	}
	if got[0].FileCount != want.FileCount || got[0].TotalBytes != want.TotalBytes {
		t.Errorf("got %+v, want file_count/total_bytes %d/%d", got[0], want.FileCount, want.TotalBytes)
	}
}

func TestRecentCompilesOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		m := CompileManifest{OutPath: "out", Entry: "main.js", CompiledAt: time.Now()}
		if err := s.RecordCompile(m); err != nil {
			t.Fatalf("RecordCompile #%d: %v", i, err)
		}
	}

	got, err := s.RecentCompiles(2)
	if err != nil {
		t.Fatalf("RecentCompiles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("expected newest first: got ids %d, %d", got[0].ID, got[1].ID)
	}
}

func TestRecordDebugCommand(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordDebugCommand("screenshot", `{}`); err != nil {
		t.Fatalf("RecordDebugCommand: %v", err)
	}
	if err := s.RecordDebugCommand("evaluate", `{"expression":"1+1"}`); err != nil {
		t.Fatalf("RecordDebugCommand: %v", err)
	}
}
