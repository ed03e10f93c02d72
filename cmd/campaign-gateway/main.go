// ABOUTME: Entry point for the campaign-gateway server
// ABOUTME: serve runs the gateway, init writes a config and first API key, health probes a running gateway

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/config"
	"github.com/2389/campaign-gateway/internal/gateway"
	"github.com/2389/campaign-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                      _
  ___ __ _ _ __ ___  _ __   __ _  __ _(_) __ _ _ __         __ ___      __
 / __/ _' | '_ ' _ \| '_ \ / _' |/ _' | |/ _' | '_ \ _____ / _' \ \ /\ / /
| (_| (_| | | | | | | |_) | (_| | (_| | | (_| | | | |_____| (_| |\ V  V /
 \___\__,_|_| |_| |_| .__/ \__,_|\__, |_|\__, |_| |_|      \__, | \_/\_/
                    |_|          |___/   |___/             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CAMPAIGN_CONFIG env var > XDG_CONFIG_HOME/campaign/gateway.yaml > ~/.config/campaign/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CAMPAIGN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "campaign", "gateway.yaml")
}

// getDataPath returns the path to the campaign data directory.
// Priority: XDG_DATA_HOME/campaign > ~/.local/share/campaign
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "campaign")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: campaign-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file and a first API key")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s\n", describeStorage(cfg.Storage))
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.LLM.Model)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Telemetry.SentryDSN == "" {
		yellow.Print("    ▶ ")
		fmt.Println("Telemetry: log only (no telemetry.sentry_dsn)")
	}

	fmt.Println()

	logger.Info("starting campaign-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Backend,
	)

	gateway.Version = versionForStatus()
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// versionForStatus keeps the API's reported version when built without a release tag
func versionForStatus() string {
	if version == "dev" {
		return gateway.Version
	}
	return strings.TrimPrefix(version, "v")
}

func describeStorage(cfg config.StorageConfig) string {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return "sqlite " + cfg.Path
	case config.BackendMemory:
		return "memory (not persisted)"
	default:
		return cfg.Backend
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	if cfg.Server.GRPCAddr != "" {
		if err := checkGRPCHealth(ctx, cfg.Server.GRPCAddr); err != nil {
			return err
		}
	}

	fmt.Println("healthy")
	return nil
}

// checkGRPCHealth asks the grpc.health.v1 service for the overall status
func checkGRPCHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to gRPC: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("gRPC health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: gRPC status %s", resp.GetStatus())
	}
	return nil
}

// generateAPIKey returns a new random bearer token
func generateAPIKey() string {
	return "cgw_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func runInit(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("campaign-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Storage Configuration ---")
	backend := prompt(reader, "Backend (sqlite/redis/postgres/memory)", config.BackendSQLite)
	var dbPath, storageURL string
	switch backend {
	case config.BackendSQLite:
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	case config.BackendRedis:
		storageURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	case config.BackendPostgres:
		storageURL = prompt(reader, "Postgres URL", "postgres://localhost:5432/campaign")
	}

	fmt.Println("\n--- Model Configuration ---")
	model := prompt(reader, "Model", config.Default().LLM.Model)
	language := prompt(reader, "Prompt language (nl/en)", "nl")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname string
	var tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "campaign-gateway")
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# campaign-gateway configuration\n")
	cfg.WriteString("# Generated by campaign-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	cfg.WriteString("\n")

	cfg.WriteString("storage:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	if dbPath != "" {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	}
	if storageURL != "" {
		cfg.WriteString(fmt.Sprintf("  url: %q\n", storageURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  limit: 10\n")
	cfg.WriteString("  window: \"60s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("llm:\n")
	cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	cfg.WriteString("  api_key: \"${ANTHROPIC_API_KEY}\"\n")
	cfg.WriteString("  timeout: \"120s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("prompts:\n")
	cfg.WriteString(fmt.Sprintf("  language: %q\n", language))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", tsHostname))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("telemetry:\n")
	cfg.WriteString("  sentry_dsn: \"${SENTRY_DSN}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	loaded, err := config.Load(outputFile)
	if err != nil {
		return fmt.Errorf("loading generated config: %w", err)
	}

	key, err := provisionKey(ctx, loaded.Storage)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	green.Println("  ✓ API key added to the allow-list (stored hashed)")
	fmt.Println()
	yellow.Println("  Your API key (shown once):")
	fmt.Printf("    %s\n\n", key)
	fmt.Println("To start the server:")
	fmt.Println("  campaign-gateway serve")

	return nil
}

// provisionKey stores a bcrypt hash of a new key in the allow-list and returns the key
func provisionKey(ctx context.Context, cfg config.StorageConfig) (string, error) {
	if cfg.Backend == config.BackendMemory {
		return "", fmt.Errorf("the memory backend cannot hold a provisioned key; set auth.default_keys instead")
	}

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	key := generateAPIKey()
	hash, err := auth.HashKey(key)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}
	if err := auth.NewAllowList(s, nil).Add(ctx, hash); err != nil {
		return "", fmt.Errorf("adding key: %w", err)
	}
	return key, nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
