// Package config handles configuration loading for campaign-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file ends in
// .toml) with environment variable expansion. Every field has a default, so
// a file only needs to name what it changes.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CAMPAIGN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/campaign/gateway.yaml
//  3. ~/.config/campaign/gateway.yaml
//
// # Environment Variable Expansion
//
//	llm:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	rate_limit:
//	  window: "60s"
//	llm:
//	  timeout: "120s"
//	results:
//	  retention: "168h"
//	stream:
//	  idle_timeout: "5m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: ""                 # grpc.health.v1, empty disables
//	  trust_proxy_headers: false    # use CF-Connecting-IP / X-Forwarded-For
//
//	storage:
//	  backend: "sqlite"             # sqlite, redis, postgres, memory
//	  path: "/var/lib/campaign/gateway.db"
//	  url: ""                       # redis://... or postgres://...
//
//	auth:
//	  default_keys: []              # used until api_keys is written to storage
//
//	rate_limit:
//	  limit: 10
//	  window: "60s"
//
//	llm:
//	  base_url: "https://api.anthropic.com"
//	  api_key: "${ANTHROPIC_API_KEY}"
//	  model: "claude-3-5-sonnet-latest"
//	  max_tokens: 2000
//	  creator_temperature: 0.7
//	  reviewer_temperature: 0.3
//	  timeout: "120s"
//
//	prompts:
//	  language: "nl"                # nl, en
//
//	telemetry:
//	  sentry_dsn: "${SENTRY_DSN}"
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
package config
