// ABOUTME: Configuration loading and parsing for campaign-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage backends accepted in storage.backend.
const (
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete campaign-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Prompts   PromptsConfig   `yaml:"prompts" toml:"prompts"`
	Results   ResultsConfig   `yaml:"results" toml:"results"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves the grpc.health.v1 service. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// TrustProxyHeaders derives the client identity from CF-Connecting-IP,
	// X-Real-IP or X-Forwarded-For instead of the socket address.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" toml:"trust_proxy_headers"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel, implies HTTPS
}

// StorageConfig selects the key-value and session state backend
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"` // sqlite database file
	URL     string `yaml:"url" toml:"url"`   // redis:// or postgres:// URL
}

// AuthConfig holds allow-list configuration
type AuthConfig struct {
	// DefaultKeys is used when the api_keys entry is missing from storage.
	DefaultKeys []string `yaml:"default_keys" toml:"default_keys"`
}

// RateLimitConfig holds the fixed-window limiter settings
type RateLimitConfig struct {
	Limit     int           `yaml:"limit" toml:"limit"`
	Window    time.Duration `yaml:"-" toml:"-"`
	WindowRaw string        `yaml:"window" toml:"window"`
}

// LLMConfig holds model endpoint configuration
type LLMConfig struct {
	BaseURL             string        `yaml:"base_url" toml:"base_url"`
	APIKey              string        `yaml:"api_key" toml:"api_key"`
	Model               string        `yaml:"model" toml:"model"`
	MaxTokens           int           `yaml:"max_tokens" toml:"max_tokens"`
	CreatorTemperature  float64       `yaml:"creator_temperature" toml:"creator_temperature"`
	ReviewerTemperature float64       `yaml:"reviewer_temperature" toml:"reviewer_temperature"`
	Timeout             time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw          string        `yaml:"timeout" toml:"timeout"`
}

// PromptsConfig selects the persona and brief templates
type PromptsConfig struct {
	Language string `yaml:"language" toml:"language"` // nl, en
}

// ResultsConfig holds generation result retention
type ResultsConfig struct {
	Retention    time.Duration `yaml:"-" toml:"-"`
	RetentionRaw string        `yaml:"retention" toml:"retention"`
}

// StreamConfig holds WebSocket session settings
type StreamConfig struct {
	IdleTimeout    time.Duration `yaml:"-" toml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout" toml:"idle_timeout"`
}

// TelemetryConfig holds error reporting configuration
type TelemetryConfig struct {
	SentryDSN   string `yaml:"sentry_dsn" toml:"sentry_dsn"`
	Environment string `yaml:"environment" toml:"environment"`
	Debug       bool   `yaml:"debug" toml:"debug"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "0.0.0.0:8080",
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "campaign-gateway.db",
		},
		RateLimit: RateLimitConfig{
			Limit:     10,
			Window:    60 * time.Second,
			WindowRaw: "60s",
		},
		LLM: LLMConfig{
			BaseURL:             "https://api.anthropic.com",
			Model:               "claude-3-5-sonnet-latest",
			MaxTokens:           2000,
			CreatorTemperature:  0.7,
			ReviewerTemperature: 0.3,
			Timeout:             120 * time.Second,
			TimeoutRaw:          "120s",
		},
		Prompts: PromptsConfig{
			Language: "nl",
		},
		Results: ResultsConfig{
			Retention:    7 * 24 * time.Hour,
			RetentionRaw: "168h",
		},
		Stream: StreamConfig{
			IdleTimeout:    5 * time.Minute,
			IdleTimeoutRaw: "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendRedis, BackendPostgres:
		if c.Storage.URL == "" {
			return fmt.Errorf("storage.url is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of sqlite, redis, postgres, memory", c.Storage.Backend)
	}

	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("rate_limit.limit must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive")
	}

	if c.Prompts.Language != "nl" && c.Prompts.Language != "en" {
		return fmt.Errorf("prompts.language %q is not one of nl, en", c.Prompts.Language)
	}

	if c.Results.Retention <= 0 {
		return fmt.Errorf("results.retention must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"results.retention", cfg.Results.RetentionRaw, &cfg.Results.Retention},
		{"stream.idle_timeout", cfg.Stream.IdleTimeoutRaw, &cfg.Stream.IdleTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
