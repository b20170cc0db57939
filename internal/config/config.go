// Package config holds all configuration types and loading logic for pressq.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a pressq server instance.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Devto    DevtoConfig    `yaml:"devto"`
	Results  ResultsConfig  `yaml:"results"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig holds identity and network settings for this instance.
type ServerConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// QueueConfig controls the inbound message queue.
type QueueConfig struct {
	// Capacity is the maximum number of pending messages.
	Capacity int `yaml:"capacity"`
	// BlockOnFull selects the backpressure policy: true makes submission block
	// until space is available; false fails immediately with a queue-full error.
	BlockOnFull bool `yaml:"block_on_full"`
}

// DispatchConfig controls the worker pool and retry policy.
type DispatchConfig struct {
	// Workers is the number of concurrent dispatch loops.
	Workers int `yaml:"workers"`
	// MaxRetries is the maximum number of attempts per message.
	MaxRetries int `yaml:"max_retries"`
	// BackoffBaseMs is the delay before the first retry; each further retry
	// doubles it.
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	// BackoffMaxMs caps the exponential backoff delay.
	BackoffMaxMs int `yaml:"backoff_max_ms"`
}

// DevtoConfig configures the remote article API client.
type DevtoConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIKey is the credential passed in the api-key header. Required for
	// create/update/delete; reads work without it.
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ResultsConfig controls retention of terminal action results.
type ResultsConfig struct {
	// Retention is how long a terminal result stays queryable, e.g. "24h".
	Retention string `yaml:"retention"`
	// SweepInterval is how often expired results are evicted, e.g. "10m".
	SweepInterval string `yaml:"sweep_interval"`
}

// AuthConfig controls API key authentication on the pressq HTTP API.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LimitsConfig sets per-IP rate limiting on the HTTP API.
type LimitsConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:      "auto",
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Queue: QueueConfig{
			Capacity:    1024,
			BlockOnFull: false,
		},
		Dispatch: DispatchConfig{
			Workers:       4,
			MaxRetries:    3,
			BackoffBaseMs: 500,
			BackoffMaxMs:  30_000,
		},
		Devto: DevtoConfig{
			BaseURL:   "https://dev.to/api",
			APIKey:    "",
			TimeoutMs: 10_000,
		},
		Results: ResultsConfig{
			Retention:     "24h",
			SweepInterval: "10m",
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Limits: LimitsConfig{
			RPS:   100,
			Burst: 200,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run pressq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	PRESSQ_DEVTO_API_KEY — sets devto.api_key
//	PRESSQ_AUTH_API_KEY  — sets auth.api_key and enables auth
//	PRESSQ_DATA_DIR      — sets server.data_dir
//	PRESSQ_PORT          — sets server.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PRESSQ_DEVTO_API_KEY"); v != "" {
		cfg.Devto.APIKey = v
	}
	if v := os.Getenv("PRESSQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("PRESSQ_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("PRESSQ_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
}

// RetentionDuration parses Results.Retention.
func (c *Config) RetentionDuration() (time.Duration, error) {
	return time.ParseDuration(c.Results.Retention)
}

// SweepIntervalDuration parses Results.SweepInterval.
func (c *Config) SweepIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.Results.SweepInterval)
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.DataDir == "" {
		return errors.New("server.data_dir must not be empty")
	}
	if c.Queue.Capacity < 1 {
		return errors.New("queue.capacity must be at least 1")
	}
	if c.Dispatch.Workers < 1 {
		return errors.New("dispatch.workers must be at least 1")
	}
	if c.Dispatch.MaxRetries < 1 {
		return errors.New("dispatch.max_retries must be at least 1")
	}
	if c.Dispatch.BackoffBaseMs < 1 {
		return errors.New("dispatch.backoff_base_ms must be at least 1")
	}
	if c.Dispatch.BackoffMaxMs < c.Dispatch.BackoffBaseMs {
		return errors.New("dispatch.backoff_max_ms must be >= dispatch.backoff_base_ms")
	}
	if c.Devto.BaseURL == "" {
		return errors.New("devto.base_url must not be empty")
	}
	if c.Devto.TimeoutMs < 1 {
		return errors.New("devto.timeout_ms must be at least 1")
	}
	if _, err := c.RetentionDuration(); err != nil {
		return fmt.Errorf("results.retention: %w", err)
	}
	if _, err := c.SweepIntervalDuration(); err != nil {
		return fmt.Errorf("results.sweep_interval: %w", err)
	}
	if c.Limits.RPS <= 0 {
		return errors.New("limits.rps must be positive")
	}
	if c.Limits.Burst < 1 {
		return errors.New("limits.burst must be at least 1")
	}
	return nil
}
