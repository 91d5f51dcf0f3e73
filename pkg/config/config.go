// Package config loads the application configuration from YAML with
// environment-variable fallbacks for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "1h30m".
type Duration time.Duration

// Duration returns the standard library form.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config represents the application configuration
type Config struct {
	// Store selects the session backend: "memory" or "redis"
	Store string      `yaml:"store"`
	Redis RedisConfig `yaml:"redis"`

	// Provider selects the LLM backend: "gemini" or "openai"
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`

	// Extraction tuning
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`

	// Session lifecycle
	SessionTimeout Duration `yaml:"session_timeout"`
	SweepInterval  Duration `yaml:"sweep_interval"`
	SweepBatch     int      `yaml:"sweep_batch"`

	// GatewayURL is the registration API endpoint for finalized profiles
	GatewayURL string `yaml:"gateway_url"`

	// Optional override files
	SchemaPath  string `yaml:"schema_path"`
	PromptsPath string `yaml:"prompts_path"`

	// MetricsPort serves /metrics and /health
	MetricsPort int `yaml:"metrics_port"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = Duration(30 * time.Minute)
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(5 * time.Minute)
	}
	if c.SweepBatch == 0 {
		c.SweepBatch = 100
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// Secrets come from the environment when not in the file.
	if c.APIKey == "" {
		switch c.Provider {
		case "openai":
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			c.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if c.GatewayURL == "" {
		c.GatewayURL = os.Getenv("GATEWAY_URL")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store %q (want memory or redis)", c.Store)
	}

	switch c.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unknown provider %q (want gemini or openai)", c.Provider)
	}

	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}

	return nil
}
