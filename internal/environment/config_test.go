package environment

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Autoescape {
		t.Fatalf("expected autoescape on by default")
	}
	if cfg.AsyncEachLimit != 8 {
		t.Fatalf("AsyncEachLimit = %d, want 8", cfg.AsyncEachLimit)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascada.toml")
	if err := os.WriteFile(path, []byte("autoescape = false\nasync_each_limit = 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Autoescape {
		t.Fatalf("expected autoescape disabled by config file")
	}
	if cfg.AsyncEachLimit != 4 {
		t.Fatalf("AsyncEachLimit = %d, want 4", cfg.AsyncEachLimit)
	}
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascada.toml")
	if err := os.WriteFile(path, []byte("bogus_key = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown config key")
	}
}
