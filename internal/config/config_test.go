package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 502 || cfg.PLCPort != 5020 {
		t.Fatalf("expected shipped defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modbusguard.yaml")
	yaml := []byte("listen_port: 1502\nplc_host: 10.0.0.50\nrate_limit_rps: 25\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 1502 || cfg.PLCHost != "10.0.0.50" || cfg.RateLimitRPS != 25 {
		t.Fatalf("expected file overrides to apply, got %+v", cfg)
	}
	// Fields not present in the file should keep their defaults.
	if cfg.PLCPort != 5020 {
		t.Fatalf("expected plc_port to remain default, got %d", cfg.PLCPort)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("MODBUSGUARD_RATE_LIMIT_RPS", "7")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitRPS != 7 {
		t.Fatalf("expected env override to apply, got %d", cfg.RateLimitRPS)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modbusguard.yaml")
	if err := os.WriteFile(path, []byte("listen_port: 70000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for out-of-range listen_port")
	}
}

func TestFunctionCodeBytesNarrows(t *testing.T) {
	got := FunctionCodeBytes([]int{0x01, 0x10})
	if len(got) != 2 || got[0] != 0x01 || got[1] != 0x10 {
		t.Fatalf("unexpected bytes: %v", got)
	}
}
