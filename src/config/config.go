package config

import (
	"fmt"
	"net/url"
	"os"

	"dashboard-sync/src/helpers"
	"dashboard-sync/src/models"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty in the YAML file.
const (
	DefaultHistoryCap      = 500
	DefaultTimeoutSeconds  = 10
	DefaultIntervalSeconds = 15
	DefaultUserAgent       = "dashboard-sync/1.0"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, helpers.NewConfigurationError("failed to parse config from YAML", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, helpers.NewConfigurationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills optional fields that were left empty.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.History.Cap == 0 {
		c.History.Cap = DefaultHistoryCap
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultTimeoutSeconds
	}
	if c.Backend.UserAgent == "" {
		c.Backend.UserAgent = DefaultUserAgent
	}
	if c.Polling.IntervalSeconds == 0 {
		c.Polling.IntervalSeconds = DefaultIntervalSeconds
	}

	p := &c.Backend.Paths
	setDefault(&p.Orders, "/api/orders")
	setDefault(&p.Fills, "/api/fills")
	setDefault(&p.Positions, "/api/positions")
	setDefault(&p.Quotes, "/api/quotes")
	setDefault(&p.Metrics, "/api/metrics")
	setDefault(&p.Start, "/api/strategy/start")
	setDefault(&p.Stop, "/api/strategy/stop")
	setDefault(&p.StopAll, "/api/strategy/stop-all")
	setDefault(&p.Flatten, "/api/strategy/flatten")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d (must be between 1025 and 65535)", c.GrpcPort)
	}

	// Backend
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url cannot be empty")
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend base_url '%s' is not an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.StreamURL != "" {
		u, err := url.Parse(c.Backend.StreamURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("backend stream_url '%s' must be a ws:// or wss:// URL", c.Backend.StreamURL)
		}
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Polling / history
	if c.Polling.IntervalSeconds <= 0 {
		return fmt.Errorf("polling interval must be greater than 0")
	}
	if c.History.Cap <= 0 {
		return fmt.Errorf("history cap must be greater than 0")
	}

	for i, sym := range c.Watchlist {
		if sym == "" {
			return fmt.Errorf("watchlist entry %d cannot be empty", i)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
