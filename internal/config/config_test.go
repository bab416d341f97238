package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Backend.InteractiveTimeout != 60*time.Second {
		t.Fatalf("unexpected interactive timeout: %s", cfg.Backend.InteractiveTimeout)
	}
	if cfg.Backend.ExtendedTimeout != 120*time.Second {
		t.Fatalf("unexpected extended timeout: %s", cfg.Backend.ExtendedTimeout)
	}
	if cfg.Backend.PollInterval != 15*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.Backend.PollInterval)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := []byte(`
backend:
  base_url: http://from-file:9000
  interactive_timeout: 30s
redis:
  addr: cache:6379
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("REDIS_ADDR", "env-cache:6380")
	t.Setenv("DASHBOARD_POLL_INTERVAL", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://from-file:9000" {
		t.Fatalf("expected file base url, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.InteractiveTimeout != 30*time.Second {
		t.Fatalf("expected file timeout, got %s", cfg.Backend.InteractiveTimeout)
	}
	if cfg.Redis.Addr != "env-cache:6380" {
		t.Fatalf("expected env override, got %s", cfg.Redis.Addr)
	}
	if cfg.Backend.PollInterval != 5*time.Second {
		t.Fatalf("expected env poll interval, got %s", cfg.Backend.PollInterval)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("BACKEND_EXTENDED_TIMEOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateRejectsInvertedTimeouts(t *testing.T) {
	cfg := Default()
	cfg.Backend.ExtendedTimeout = time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
