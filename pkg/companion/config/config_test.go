package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Model != Default().API.Model {
		t.Fatalf("expected default model, got %q", cfg.API.Model)
	}
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
name: TestBot
api:
  model: gpt-4o-mini
poller:
  interval: 10m
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "TestBot" {
		t.Fatalf("Name = %q, want TestBot", cfg.Name)
	}
	if cfg.API.Model != "gpt-4o-mini" {
		t.Fatalf("API.Model = %q, want gpt-4o-mini", cfg.API.Model)
	}
	if cfg.Poller.Interval.String() != "10m0s" {
		t.Fatalf("Poller.Interval = %v, want 10m0s", cfg.Poller.Interval)
	}
	// Unset fields still fall back to the default.
	if cfg.Hardware.BaudRate != Default().Hardware.BaudRate {
		t.Fatalf("expected default baud rate to survive overlay, got %d", cfg.Hardware.BaudRate)
	}
}

func TestResolveSecretPrefersExplicitValue(t *testing.T) {
	val, err := ResolveSecret("explicit-value", "COMPANION_TEST_SECRET_ENV", "test-key", nil)
	if err != nil {
		t.Fatalf("ResolveSecret failed: %v", err)
	}
	if val != "explicit-value" {
		t.Fatalf("ResolveSecret() = %q, want explicit-value", val)
	}
}

func TestResolveSecretFallsBackToEnv(t *testing.T) {
	t.Setenv("COMPANION_TEST_SECRET_ENV", "from-env")
	val, err := ResolveSecret("", "COMPANION_TEST_SECRET_ENV", "test-key", nil)
	if err != nil {
		t.Fatalf("ResolveSecret failed: %v", err)
	}
	if val != "from-env" {
		t.Fatalf("ResolveSecret() = %q, want from-env", val)
	}
}
