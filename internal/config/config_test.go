package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Queue.Capacity != 1024 || cfg.Dispatch.Workers != 4 || cfg.Dispatch.MaxRetries != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Devto.BaseURL != "https://dev.to/api" {
		t.Errorf("base_url default = %q", cfg.Devto.BaseURL)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9090
queue:
  capacity: 16
  block_on_full: true
dispatch:
  max_retries: 5
devto:
  base_url: "http://localhost:3000/api"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Queue.Capacity != 16 || !cfg.Queue.BlockOnFull {
		t.Errorf("queue overlay not applied: %+v", cfg.Queue)
	}
	if cfg.Dispatch.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Dispatch.MaxRetries)
	}
	// Untouched sections keep their defaults.
	if cfg.Dispatch.Workers != 4 {
		t.Errorf("workers = %d, want default 4", cfg.Dispatch.Workers)
	}
	if cfg.Devto.BaseURL != "http://localhost:3000/api" {
		t.Errorf("base_url = %q", cfg.Devto.BaseURL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRESSQ_DEVTO_API_KEY", "remote-key")
	t.Setenv("PRESSQ_AUTH_API_KEY", "local-key")
	t.Setenv("PRESSQ_PORT", "7070")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Devto.APIKey != "remote-key" {
		t.Errorf("devto api key = %q", cfg.Devto.APIKey)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "local-key" {
		t.Errorf("auth override not applied: %+v", cfg.Auth)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }},
		{"zero workers", func(c *Config) { c.Dispatch.Workers = 0 }},
		{"zero retries", func(c *Config) { c.Dispatch.MaxRetries = 0 }},
		{"backoff max below base", func(c *Config) { c.Dispatch.BackoffMaxMs = 1 }},
		{"empty base url", func(c *Config) { c.Devto.BaseURL = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad retention", func(c *Config) { c.Results.Retention = "soon" }},
		{"zero rps", func(c *Config) { c.Limits.RPS = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	r, err := cfg.RetentionDuration()
	if err != nil || r != 24*time.Hour {
		t.Errorf("retention = %v, %v", r, err)
	}
	s, err := cfg.SweepIntervalDuration()
	if err != nil || s != 10*time.Minute {
		t.Errorf("sweep interval = %v, %v", s, err)
	}
}
