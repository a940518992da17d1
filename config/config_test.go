package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadNumKeyMaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Access.NumKeyMaps = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero num_key_maps")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestLoadFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvNumKeyMaps, "16")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Access.NumKeyMaps != 16 {
		t.Fatalf("expected overridden num_key_maps, got %d", cfg.Access.NumKeyMaps)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level, got %s", cfg.Logging.Level)
	}
	if cfg.Access.TxnTimeout != DefaultConfig().Access.TxnTimeout {
		t.Fatalf("expected unset fields to keep their default")
	}
}

func TestLoadFromFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "darkstar.yaml")

	cfg := DefaultConfig()
	cfg.Access.NumKeyMaps = 32
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Access.NumKeyMaps != 32 {
		t.Fatalf("expected round-tripped num_key_maps=32, got %d", loaded.Access.NumKeyMaps)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
