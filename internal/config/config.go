// ABOUTME: Configuration loading and parsing for travel-brain
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by Load when the config file leaves them unset.
const (
	DefaultTurnTimeout      = 2 * time.Minute
	DefaultGracePeriod      = 5 * time.Second
	DefaultMaxConcurrent    = 64
	DefaultSubscriberBuffer = 64
)

// Config represents the complete travel-brain configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Turns    TurnsConfig    `yaml:"turns"`
	Planner  PlannerConfig  `yaml:"planner"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TurnsConfig holds turn execution configuration.
//
// CancelOnDisconnect controls what a streaming client's disconnect means:
// false (the default) detaches delivery only and the turn still runs to a
// commit or a discard; true aborts the turn itself.
type TurnsConfig struct {
	Timeout     time.Duration `yaml:"-"`
	GracePeriod time.Duration `yaml:"-"`

	CancelOnDisconnect bool `yaml:"cancel_on_disconnect"`
	MaxConcurrent      int  `yaml:"max_concurrent"`
	SubscriberBuffer   int  `yaml:"subscriber_buffer"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw     string `yaml:"timeout"`
	GracePeriodRaw string `yaml:"grace_period"`
}

// PlannerConfig holds configuration for the builtin itinerary planner.
type PlannerConfig struct {
	// KnowledgePath points at a TOML destination knowledge base.
	// Empty means the embedded default knowledge is used.
	KnowledgePath string `yaml:"knowledge_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Turns.Timeout <= 0 {
		return fmt.Errorf("turns.timeout must be positive")
	}

	if c.Turns.MaxConcurrent <= 0 {
		return fmt.Errorf("turns.max_concurrent must be positive")
	}

	if c.Turns.SubscriberBuffer <= 0 {
		return fmt.Errorf("turns.subscriber_buffer must be positive")
	}

	return nil
}

// ApplyDefaults fills in zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Turns.Timeout == 0 {
		c.Turns.Timeout = DefaultTurnTimeout
	}
	if c.Turns.GracePeriod == 0 {
		c.Turns.GracePeriod = DefaultGracePeriod
	}
	if c.Turns.MaxConcurrent == 0 {
		c.Turns.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.Turns.SubscriberBuffer == 0 {
		c.Turns.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Turns.TimeoutRaw != "" {
		cfg.Turns.Timeout, err = time.ParseDuration(cfg.Turns.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing turns.timeout %q: %w", cfg.Turns.TimeoutRaw, err)
		}
	}

	if cfg.Turns.GracePeriodRaw != "" {
		cfg.Turns.GracePeriod, err = time.ParseDuration(cfg.Turns.GracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing turns.grace_period %q: %w", cfg.Turns.GracePeriodRaw, err)
		}
	}

	return nil
}
