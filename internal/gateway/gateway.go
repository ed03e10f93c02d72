// ABOUTME: Gateway orchestrator that wires the store, admission gate and pipeline to HTTP
// ABOUTME: Manages the HTTP, gRPC health and tailscale listeners and their shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/campaign-gateway/internal/auth"
	"github.com/2389/campaign-gateway/internal/config"
	"github.com/2389/campaign-gateway/internal/llm"
	"github.com/2389/campaign-gateway/internal/pipeline"
	"github.com/2389/campaign-gateway/internal/ratelimit"
	"github.com/2389/campaign-gateway/internal/session"
	"github.com/2389/campaign-gateway/internal/store"
	"github.com/2389/campaign-gateway/internal/telemetry"
)

// Version is reported by GET /api/status
var Version = "1.0.0"

// janitorInterval is how often expired keys are swept from stores that keep them
const janitorInterval = 10 * time.Minute

// Gateway orchestrates the campaign-gateway server components.
// It serves the HTTP API and WebSocket endpoint, and optionally a gRPC health service.
type Gateway struct {
	config     *config.Config
	store      store.Store
	gate       *auth.Gate
	registry   *session.Registry
	pipeline   *pipeline.Pipeline
	reporter   telemetry.Reporter
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	logger     *slog.Logger

	// tsnetServer is set when tailscale.enabled is true
	tsnetServer *tsnet.Server

	// stopJanitor cancels the expiry sweeper started by Run
	stopJanitor context.CancelFunc

	streamsMu sync.Mutex
	streams   map[*wsConn]struct{}
}

// Option customizes a Gateway at construction time
type Option func(*options)

type options struct {
	store    store.Store
	model    llm.Model
	reporter telemetry.Reporter
}

// WithStore uses s instead of opening the configured storage backend.
// The gateway takes ownership and closes s on shutdown.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithModel uses m instead of the configured Messages API client
func WithModel(m llm.Model) Option {
	return func(o *options) { o.model = m }
}

// WithReporter uses r for internal error reports
func WithReporter(r telemetry.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// newModel builds the Messages API client from config.
func newModel(cfg config.LLMConfig, logger *slog.Logger) llm.Model {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("no llm.api_key or ANTHROPIC_API_KEY configured - model calls will be rejected upstream")
	}
	return &llm.Client{
		BaseURL: cfg.BaseURL,
		APIKey:  apiKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Logger:  logger.With("component", "llm"),
	}
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		s, err = store.Open(context.Background(), cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
	}

	model := o.model
	if model == nil {
		model = newModel(cfg.LLM, logger)
	}

	reporter := o.reporter
	if reporter == nil {
		var err error
		reporter, err = telemetry.New(cfg.Telemetry, Version)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
	}

	allow := auth.NewAllowList(s, cfg.Auth.DefaultKeys)
	limiter := ratelimit.New(s, cfg.RateLimit.Limit, cfg.RateLimit.Window)

	registry := session.NewRegistry(s, model, session.Settings{
		Language:            cfg.Prompts.Language,
		MaxTokens:           cfg.LLM.MaxTokens,
		CreatorTemperature:  cfg.LLM.CreatorTemperature,
		ReviewerTemperature: cfg.LLM.ReviewerTemperature,
	})

	grpcServer, healthServer := newGRPCServer()

	gw := &Gateway{
		config:     cfg,
		store:      s,
		gate:       auth.NewGate(allow, limiter),
		registry:   registry,
		pipeline:   pipeline.New(pipeline.NewStages(registry), s, cfg.Results.Retention),
		reporter:   reporter,
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger.With("component", "gateway"),
		streams:    make(map[*wsConn]struct{}),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving the API and WebSocket endpoint
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for HTTP and, when
// server.grpc_addr is set, for gRPC health.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr == "" {
		return nil, httpLn, nil
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		_ = httpLn.Close()
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// grpcLn is nil when the gRPC health service is disabled.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.listenTailnet(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// recordStartTime makes sure system_status has a start time before the
// first status request, so uptime counts from the first boot.
func (g *Gateway) recordStartTime(ctx context.Context) error {
	status, err := g.registry.Get(session.SystemStatusName).Status(ctx)
	if err != nil {
		return fmt.Errorf("recording start time: %w", err)
	}
	g.logger.Info("system status loaded",
		"uptime", status.Uptime.Round(time.Second),
		"requests_processed", status.RequestsProcessed,
	)
	return nil
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	if err := g.recordStartTime(ctx); err != nil {
		return err
	}

	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	janitorCtx, stop := context.WithCancel(context.Background())
	g.stopJanitor = stop
	go store.RunJanitor(janitorCtx, g.store, janitorInterval)

	g.setServing()
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.health.Shutdown()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Hijacked WebSocket connections are not tracked by http.Server
	g.closeStreams()

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.stopJanitor != nil {
		g.stopJanitor()
	}

	g.reporter.Flush(2 * time.Second)
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
