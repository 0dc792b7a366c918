package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all service configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     LogConfig         `toml:"logging"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Rules       RulesConfig       `toml:"rules"`
	Reporting   ReportingConfig   `toml:"reporting"`
	Correlation CorrelationConfig `toml:"correlation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" toml:"port" default:"8700"`
	Host string `envconfig:"HOST" toml:"host" default:"127.0.0.1"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" toml:"level" default:"info"`
	Development bool   `envconfig:"LOG_DEV" toml:"development" default:"false"`
}

// RateLimitConfig holds transport-level rate limiting for the ingest API.
// This is the token bucket in front of the HTTP surface, not the sliding
// window the detection engine uses internally.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" toml:"requests_per_second" default:"200"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" toml:"burst" default:"400"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" toml:"enabled" default:"true"`
}

// RulesConfig holds pattern rule pack loading configuration.
type RulesConfig struct {
	Dir       string `envconfig:"RULES_DIR" toml:"dir" default:""`
	RemoteURL string `envconfig:"RULES_URL" toml:"remote_url" default:""`
	CacheSize int    `envconfig:"PATTERN_CACHE_SIZE" toml:"cache_size" default:"512"`
}

// ReportingConfig holds threat reporting sink configuration.
type ReportingConfig struct {
	WebhookURL string `envconfig:"REPORT_WEBHOOK_URL" toml:"webhook_url" default:""`
}

// CorrelationConfig holds cross-surface correlation tuning.
type CorrelationConfig struct {
	WindowSeconds int `envconfig:"CORRELATION_WINDOW_SECONDS" toml:"window_seconds" default:"60"`
	MinKeys       int `envconfig:"CORRELATION_MIN_KEYS" toml:"min_keys" default:"3"`
	MinHits       int `envconfig:"CORRELATION_MIN_HITS" toml:"min_hits" default:"5"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("WARDEN", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile loads configuration from a TOML file over the defaults. Fields
// absent from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "127.0.0.1",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 200,
			Burst:             400,
			Enabled:           true,
		},
		Rules: RulesConfig{
			CacheSize: 512,
		},
		Correlation: CorrelationConfig{
			WindowSeconds: 60,
			MinKeys:       3,
			MinHits:       5,
		},
	}
}
