package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadWindow(t *testing.T) {
	cfg := Default()
	cfg.Window.Width = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Engine.Backend = "v8"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unbuilt backend")
	}
}

func TestEnsureCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mystral.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for missing file")
	}
	if cfg.Window.Title != "Mystral" {
		t.Fatalf("unexpected default title %q", cfg.Window.Title)
	}

	cfg2, created2, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (2nd call): %v", err)
	}
	if created2 {
		t.Fatal("expected created=false on 2nd call")
	}
	if cfg2.Window.Width != cfg.Window.Width {
		t.Fatal("loaded config should match saved default")
	}
}
