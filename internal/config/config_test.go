package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig_Sane(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engine.EpochTickInterval != 10*time.Millisecond {
		t.Fatalf("unexpected epoch tick interval: %v", cfg.Engine.EpochTickInterval)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("expected metrics enabled by default")
	}
	if cfg.NetworkPolicy.Enabled {
		t.Fatal("expected network policy disabled by default")
	}
}

func TestLoad_EmptyPathReturnsDefaultsPlusEnv(t *testing.T) {
	t.Setenv("ERYX_LOG_LEVEL", "debug")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env override to apply, got %q", cfg.Logging.Level)
	}
}

func TestLoad_FileThenEnvLayering(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "eryx-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("metrics:\n  namespace: custom\nlogging:\n  level: warn\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	t.Setenv("ERYX_LOG_LEVEL", "error")

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Metrics.Namespace != "custom" {
		t.Fatalf("expected file value to apply, got %q", cfg.Metrics.Namespace)
	}
	if cfg.Logging.Level != "error" {
		t.Fatalf("expected env to override file value, got %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/eryx.yaml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
