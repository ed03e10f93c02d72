// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "127.0.0.1:9090"
  grpc_addr: "127.0.0.1:50051"
  trust_proxy_headers: true

storage:
  backend: "sqlite"
  path: "./test.db"

auth:
  default_keys:
    - "test_key"

rate_limit:
  limit: 5
  window: "30s"

llm:
  model: "claude-test"
  timeout: "45s"
  creator_temperature: 0.9

prompts:
  language: "en"

results:
  retention: "24h"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "127.0.0.1:50051")
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("Server.TrustProxyHeaders = false, want true")
	}
	if cfg.Storage.Path != "./test.db" {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, "./test.db")
	}
	if len(cfg.Auth.DefaultKeys) != 1 || cfg.Auth.DefaultKeys[0] != "test_key" {
		t.Errorf("Auth.DefaultKeys = %v, want [test_key]", cfg.Auth.DefaultKeys)
	}
	if cfg.RateLimit.Limit != 5 {
		t.Errorf("RateLimit.Limit = %d, want 5", cfg.RateLimit.Limit)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("RateLimit.Window = %v, want %v", cfg.RateLimit.Window, 30*time.Second)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want %v", cfg.LLM.Timeout, 45*time.Second)
	}
	if cfg.LLM.CreatorTemperature != 0.9 {
		t.Errorf("LLM.CreatorTemperature = %v, want 0.9", cfg.LLM.CreatorTemperature)
	}
	if cfg.Prompts.Language != "en" {
		t.Errorf("Prompts.Language = %q, want en", cfg.Prompts.Language)
	}
	if cfg.Results.Retention != 24*time.Hour {
		t.Errorf("Results.Retention = %v, want %v", cfg.Results.Retention, 24*time.Hour)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_DefaultsKeptForMissingFields(t *testing.T) {
	configPath := writeConfig(t, "gateway.yaml", `
storage:
  backend: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RateLimit.Limit != 10 {
		t.Errorf("RateLimit.Limit = %d, want 10", cfg.RateLimit.Limit)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit.Window = %v, want 1m", cfg.RateLimit.Window)
	}
	if cfg.LLM.MaxTokens != 2000 {
		t.Errorf("LLM.MaxTokens = %d, want 2000", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.CreatorTemperature != 0.7 || cfg.LLM.ReviewerTemperature != 0.3 {
		t.Errorf("temperatures = %v/%v, want 0.7/0.3", cfg.LLM.CreatorTemperature, cfg.LLM.ReviewerTemperature)
	}
	if cfg.Results.Retention != 7*24*time.Hour {
		t.Errorf("Results.Retention = %v, want 168h", cfg.Results.Retention)
	}
	if cfg.Prompts.Language != "nl" {
		t.Errorf("Prompts.Language = %q, want nl", cfg.Prompts.Language)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:7070"

[storage]
backend = "redis"
url = "redis://localhost:6379/0"

[rate_limit]
limit = 3
window = "10s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:7070" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:7070")
	}
	if cfg.Storage.Backend != BackendRedis {
		t.Errorf("Storage.Backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.RateLimit.Limit != 3 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("RateLimit = %+v, want 3 per 10s", cfg.RateLimit)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("CAMPAIGN_TEST_LLM_KEY", "sk-test-123")
	t.Setenv("CAMPAIGN_TEST_DB", "/tmp/campaign.db")

	configPath := writeConfig(t, "gateway.yaml", `
storage:
  path: "${CAMPAIGN_TEST_DB}"
llm:
  api_key: "${CAMPAIGN_TEST_LLM_KEY}"
telemetry:
  sentry_dsn: "${CAMPAIGN_TEST_UNSET_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-test-123")
	}
	if cfg.Storage.Path != "/tmp/campaign.db" {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, "/tmp/campaign.db")
	}
	if cfg.Telemetry.SentryDSN != "" {
		t.Errorf("Telemetry.SentryDSN = %q, want empty", cfg.Telemetry.SentryDSN)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "gateway.yaml", `
rate_limit:
  window: "sixty seconds"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "rate_limit.window") {
		t.Errorf("error %q should name the field", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale allows empty http addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = "campaign"
			},
		},
		{
			name:    "tailscale requires hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: "storage.backend",
		},
		{
			name:    "redis requires url",
			mutate:  func(c *Config) { c.Storage.Backend = BackendRedis },
			wantErr: "storage.url is required for the redis backend",
		},
		{
			name:    "sqlite requires path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "storage.path is required",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.Limit = 0 },
			wantErr: "rate_limit.limit must be positive",
		},
		{
			name:    "unknown prompt language",
			mutate:  func(c *Config) { c.Prompts.Language = "fr" },
			wantErr: "prompts.language",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}
