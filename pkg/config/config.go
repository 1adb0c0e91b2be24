// Package config provides configuration management for matrixsync.
// It defines the structure for YAML configuration files and handles
// loading, validation, and default value application.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for matrixsync.
// It defines the homeserver connection, sync behavior, logging, and metrics.
type Config struct {
	// Version is the configuration file format version
	Version string `yaml:"version"`
	// Homeserver defines the Matrix homeserver connection
	Homeserver HomeserverConfig `yaml:"homeserver"`
	// Sync defines sync loop behavior
	Sync SyncConfig `yaml:"sync"`
	// Logging defines logging behavior
	Logging LoggingConfig `yaml:"logging"`
	// Metrics defines the Prometheus metrics endpoint
	Metrics MetricsConfig `yaml:"metrics"`
}

// HomeserverConfig defines how to reach and authenticate with the homeserver.
type HomeserverConfig struct {
	// URL is the base URL of the homeserver (e.g., https://matrix.example.com)
	URL string `yaml:"url"`
	// AccessToken authenticates every request. Falls back to MATRIX_ACCESS_TOKEN.
	AccessToken string `yaml:"access_token"`
	// UserID is the full Matrix user ID (e.g., @alice:example.com).
	// Resolved via /whoami when empty.
	UserID string `yaml:"user_id"`
	// RequestTimeoutMs is the per-request HTTP timeout in milliseconds,
	// applied on top of the sync long-poll hold (default: 15000)
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// SyncConfig defines sync loop behavior.
type SyncConfig struct {
	// TimeoutMs is the server-side long-poll hold in milliseconds (default: 30000)
	TimeoutMs int `yaml:"timeout_ms"`
	// Filter is an optional filter ID or inline JSON filter definition
	Filter string `yaml:"filter"`
	// InitialToken resumes from a previously saved cursor (optional)
	InitialToken string `yaml:"initial_token"`
	// Backoff tunes retry behavior after transient failures
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig tunes the retry schedule applied after transient sync failures.
type BackoffConfig struct {
	// InitialMs is the delay after the first failure in milliseconds (default: 1000)
	InitialMs int `yaml:"initial_ms"`
	// MaxMs caps the delay growth in milliseconds (default: 30000)
	MaxMs int `yaml:"max_ms"`
	// Multiplier is the exponential growth factor (default: 2.0)
	Multiplier float64 `yaml:"multiplier"`
	// Jitter randomizes each delay by ±20% (default: true)
	Jitter *bool `yaml:"jitter"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error" (default: "info")
	Level string `yaml:"level"`
	// Pretty enables human-readable console output instead of JSON
	Pretty bool `yaml:"pretty"`
	// EventLogDir is the directory where per-session event logs are stored
	EventLogDir string `yaml:"event_log_dir"`
	// ConsoleEvents echoes room activity to the console (default: true)
	ConsoleEvents *bool `yaml:"console_events"`
}

// MetricsConfig defines the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled determines if the metrics HTTP server runs (disabled by default)
	Enabled bool `yaml:"enabled"`
	// Addr is the listen address for the metrics server (default: ":9090")
	Addr string `yaml:"addr"`
}

// NewDefaultConfig creates a configuration with sensible defaults.
// The default event log directory is ~/.matrixsync/events.
func NewDefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultLogDir := fmt.Sprintf("%s/.matrixsync/events", homeDir)

	return &Config{
		Version: "1.0",
		Homeserver: HomeserverConfig{
			RequestTimeoutMs: 15000,
		},
		Sync: SyncConfig{
			TimeoutMs: 30000,
			Backoff: BackoffConfig{
				InitialMs:  1000,
				MaxMs:      30000,
				Multiplier: 2.0,
				Jitter:     boolPtr(true),
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Pretty:        true,
			EventLogDir:   defaultLogDir,
			ConsoleEvents: boolPtr(true),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// LoadConfig loads and validates a configuration from a YAML file.
// It applies default values for any missing optional fields.
// Returns an error if the file cannot be read, parsed, or is invalid.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// SaveConfig writes the configuration to a YAML file.
// The file is created with 0600 permissions (read/write for owner only).
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
// It ensures the homeserver URL and credentials are present and that tuning
// values are in range. The access token may come from the environment.
func (c *Config) Validate() error {
	if c.Homeserver.URL == "" {
		return fmt.Errorf("homeserver.url is required")
	}
	if !strings.HasPrefix(c.Homeserver.URL, "http://") && !strings.HasPrefix(c.Homeserver.URL, "https://") {
		return fmt.Errorf("homeserver.url must start with http:// or https://")
	}

	token := c.Homeserver.AccessToken
	if token == "" {
		token = os.Getenv("MATRIX_ACCESS_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("homeserver.access_token is required (or set MATRIX_ACCESS_TOKEN)")
	}

	if c.Homeserver.UserID != "" && !strings.HasPrefix(c.Homeserver.UserID, "@") {
		return fmt.Errorf("homeserver.user_id must be a full Matrix user ID (e.g., @alice:example.com)")
	}

	if c.Sync.TimeoutMs < 0 {
		return fmt.Errorf("sync.timeout_ms cannot be negative")
	}
	if c.Sync.Backoff.Multiplier != 0 && c.Sync.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("sync.backoff.multiplier must be at least 1.0")
	}
	if c.Sync.Backoff.MaxMs != 0 && c.Sync.Backoff.InitialMs > c.Sync.Backoff.MaxMs {
		return fmt.Errorf("sync.backoff.initial_ms cannot exceed sync.backoff.max_ms")
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Homeserver.AccessToken == "" {
		if env := os.Getenv("MATRIX_ACCESS_TOKEN"); env != "" {
			c.Homeserver.AccessToken = env
		}
	}
	if c.Homeserver.UserID == "" {
		if env := os.Getenv("MATRIX_USER_ID"); env != "" {
			c.Homeserver.UserID = env
		}
	}
	if c.Homeserver.RequestTimeoutMs == 0 {
		c.Homeserver.RequestTimeoutMs = 15000
	}

	if c.Sync.TimeoutMs == 0 {
		c.Sync.TimeoutMs = 30000
	}
	if c.Sync.Backoff.InitialMs == 0 {
		c.Sync.Backoff.InitialMs = 1000
	}
	if c.Sync.Backoff.MaxMs == 0 {
		c.Sync.Backoff.MaxMs = 30000
	}
	if c.Sync.Backoff.Multiplier == 0 {
		c.Sync.Backoff.Multiplier = 2.0
	}
	if c.Sync.Backoff.Jitter == nil {
		c.Sync.Backoff.Jitter = boolPtr(true)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.EventLogDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		c.Logging.EventLogDir = fmt.Sprintf("%s/.matrixsync/events", homeDir)
	}
	if c.Logging.ConsoleEvents == nil {
		c.Logging.ConsoleEvents = boolPtr(true)
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

func boolPtr(v bool) *bool {
	return &v
}
