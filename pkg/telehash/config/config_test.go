package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Errorf("Load(missing) = %+v, want %+v", cfg, want)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "switch.yaml")
	body := "udp_port: 5000\nopen_timeout: 5s\nmetrics_enabled: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UDPPort != 5000 {
		t.Errorf("UDPPort = %d, want 5000", cfg.UDPPort)
	}
	if cfg.OpenTimeout.Duration() != 5*time.Second {
		t.Errorf("OpenTimeout = %s, want 5s", cfg.OpenTimeout.Duration())
	}
	if !cfg.MetricsEnabled {
		t.Errorf("MetricsEnabled = false, want true")
	}
	// Untouched fields keep their defaults.
	if cfg.IdleTimeout.Duration() != 60*time.Second {
		t.Errorf("IdleTimeout = %s, want default 60s", cfg.IdleTimeout.Duration())
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "switch.yaml")
	if err := os.WriteFile(path, []byte("udp_port: 99999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected error for invalid udp_port, got nil")
	}
}
