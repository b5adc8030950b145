package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  name: i2c0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Name != "i2c0" {
		t.Fatalf("want bus.name=i2c0, got %q", cfg.Bus.Name)
	}
	if cfg.Bus.ClockHz != 400000 {
		t.Fatalf("want default clock_hz=400000, got %d", cfg.Bus.ClockHz)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("want default server.port=8090, got %d", cfg.Server.Port)
	}
	if cfg.Trace.RetentionDays != 30 {
		t.Fatalf("want default trace.retention_days=30, got %d", cfg.Trace.RetentionDays)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "bus:\n  name: i2c1\n  slave_address: 0x20\n  clock_hz: 100000\n" +
		"trace:\n  path: /tmp/trace\n  retention_days: 7\n" +
		"server:\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.ClockHz != 100000 {
		t.Fatalf("want clock_hz=100000, got %d", cfg.Bus.ClockHz)
	}
	if cfg.Trace.Path != "/tmp/trace" || cfg.Trace.RetentionDays != 7 {
		t.Fatalf("trace overrides not applied: %+v", cfg.Trace)
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("want server.port=9000, got %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
