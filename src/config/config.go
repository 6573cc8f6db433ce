package config

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"market-stream/src/models"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// DefaultBackoffSeconds is the reconnect schedule used when none is configured.
var DefaultBackoffSeconds = []int{0, 2, 5, 10, 30}

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
	mu sync.Mutex
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file, then applies
// environment overrides and defaults.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// 1. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	// 2. Environment overrides (env tags) and env-default for zero fields
	if err := cleanenv.ReadEnv(&modelConfig); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if len(c.Stream.BackoffSeconds) == 0 {
		c.Stream.BackoffSeconds = append([]int(nil), DefaultBackoffSeconds...)
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = c.Name + ".db"
	}
	if len(c.Timeframes) == 0 {
		for _, tf := range models.Timeframes {
			c.Timeframes = append(c.Timeframes, string(tf))
		}
	}
	if c.Watchlists == nil {
		c.Watchlists = make(map[string][]string)
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Server
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535 || c.GrpcPort == c.Port) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Stream
	if c.Stream.URL == "" {
		return fmt.Errorf("stream url cannot be empty")
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream url must use ws or wss, got %q", u.Scheme)
	}
	for i, s := range c.Stream.BackoffSeconds {
		if s < 0 {
			return fmt.Errorf("backoff step %d cannot be negative", i)
		}
	}
	if c.Stream.PendingBufferSize <= 0 {
		return fmt.Errorf("pending buffer size must be greater than 0")
	}

	// Instruments
	for kind, d := range c.Instrument.Divisors {
		if d <= 0 {
			return fmt.Errorf("divisor for instrument type '%s' must be greater than 0", kind)
		}
	}

	// Storage
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type '%s'", c.Storage.DBType)
	}
	if c.Storage.RetentionDays <= 0 {
		return fmt.Errorf("data retention days must be greater than 0")
	}

	// Network
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	for _, tf := range c.Timeframes {
		if _, err := models.ParseTimeframe(tf); err != nil {
			return fmt.Errorf("timeframes: %w", err)
		}
	}
	for name, symbols := range c.Watchlists {
		if name == "" {
			return fmt.Errorf("watchlist name cannot be empty")
		}
		if len(symbols) == 0 {
			return fmt.Errorf("watchlist '%s' must have at least one symbol", name)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// BackoffSchedule returns the reconnect delays.
func (c *Config) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(c.Stream.BackoffSeconds))
	for i, s := range c.Stream.BackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// SupportedTimeframes returns the configured timeframes in canonical form.
func (c *Config) SupportedTimeframes() []models.MTimeframe {
	out := make([]models.MTimeframe, 0, len(c.Timeframes))
	for _, s := range c.Timeframes {
		if tf, err := models.ParseTimeframe(s); err == nil {
			out = append(out, tf)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// SetWatchlist replaces (or with no symbols, removes) a named watchlist.
func (c *Config) SetWatchlist(name string, symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Watchlists == nil {
		c.Watchlists = make(map[string][]string)
	}
	if len(symbols) == 0 {
		delete(c.Watchlists, name)
		return
	}
	c.Watchlists[name] = append([]string(nil), symbols...)
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

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
