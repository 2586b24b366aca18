package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Pipeline.DebounceInterval != 30 {
		t.Errorf("Expected debounce interval 30, got %d", cfg.Pipeline.DebounceInterval)
	}
	if cfg.FoundWindow().Seconds() != 5 {
		t.Errorf("Expected 5s found window, got %v", cfg.FoundWindow())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[camera]
primary = "rtsp://192.168.4.1:8554/live"

[recognition]
tolerance = 0.42
distance = "COSINE"

[paths]
photos_dir = "` + filepath.ToSlash(filepath.Join(dir, "photos")) + `"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Camera.Primary != "rtsp://192.168.4.1:8554/live" {
		t.Errorf("primary not loaded: %q", cfg.Camera.Primary)
	}
	if cfg.Camera.Secondary != "0" {
		t.Errorf("secondary default lost: %q", cfg.Camera.Secondary)
	}
	if cfg.Recognition.Tolerance != 0.42 {
		t.Errorf("Expected tolerance 0.42, got %f", cfg.Recognition.Tolerance)
	}
	if cfg.Recognition.Distance != "cosine" {
		t.Errorf("distance not normalized: %q", cfg.Recognition.Distance)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	if _, err := Load(missing, false); err == nil {
		t.Fatal("Expected error for missing file")
	}
	if _, err := Load(missing, true); err != nil {
		t.Fatalf("allowMissing should fall back to defaults: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Recognition.Tolerance = 1.5
	cfg.Pipeline.DebounceInterval = 0
	cfg.Pipeline.Display = "hologram"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"tolerance", "debounce_interval", "display"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %v", want, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandPath("~/lookout")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "lookout") {
		t.Errorf("expandPath = %q", got)
	}
}
