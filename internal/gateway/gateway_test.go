// ABOUTME: Tests for gateway construction, lifecycle and shared test helpers
// ABOUTME: Runs the gateway on free TCP ports and probes /health and gRPC health

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/campaign-gateway/internal/config"
	"github.com/2389/campaign-gateway/internal/llm"
	"github.com/2389/campaign-gateway/internal/store"
)

const testKey = "test_key"

// testConfig returns a config on free local ports with the memory backend
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// Find available ports
	grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available gRPC port: %v", err)
	}
	grpcAddr := grpcListener.Addr().String()
	grpcListener.Close()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	cfg := config.Default()
	cfg.Server.GRPCAddr = grpcAddr
	cfg.Server.HTTPAddr = httpAddr
	cfg.Storage = config.StorageConfig{Backend: config.BackendMemory}
	cfg.Auth.DefaultKeys = []string{testKey}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedModel answers the creator with a fixed text and the reviewer with a
// review in the Dutch section layout. A non-nil hold blocks every call until
// it is closed.
type scriptedModel struct {
	mu      sync.Mutex
	calls   int
	err     error
	hold    chan struct{}
	content string
	review  string
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		content: "Zomer in de stad! Ontdek onze nieuwe collectie.",
		review:  "Algemene indruk: 8/10\n\nSterke punten: pakkend.\n\nVerbeterde versie:\n\nZomer in de stad! Shop nu de nieuwe collectie.\n\nToelichting: sterkere oproep.",
	}
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.calls++
	hold, err := m.hold, m.err
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if req.Temperature < 0.5 {
		return m.review, nil
	}
	return m.content, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type capturedError struct {
	err  error
	tags []any
}

// recordingReporter keeps every captured error
type recordingReporter struct {
	mu       sync.Mutex
	captured []capturedError
}

func (r *recordingReporter) CaptureError(_ context.Context, err error, tags ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, capturedError{err: err, tags: tags})
}

func (r *recordingReporter) Flush(time.Duration) {}

func (r *recordingReporter) capturedErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.captured))
	for i, c := range r.captured {
		out[i] = c.err
	}
	return out
}

type testEnv struct {
	gw       *Gateway
	srv      *httptest.Server
	model    *scriptedModel
	reporter *recordingReporter
	store    *store.MemoryStore
}

// newTestEnv serves the gateway's handler from an httptest server
func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, m := range mutate {
		m(cfg)
	}

	env := &testEnv{
		model:    newScriptedModel(),
		reporter: &recordingReporter{},
		store:    store.NewMemoryStore(0),
	}

	gw, err := New(cfg, testLogger(),
		WithStore(env.store),
		WithModel(env.model),
		WithReporter(env.reporter),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	env.gw = gw
	env.srv = httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return env
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: config.BackendSQLite, Path: ":memory:"}

	gw, err := New(cfg, testLogger(), WithModel(newScriptedModel()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if _, ok := gw.store.(*store.SQLiteStore); !ok {
		t.Errorf("store = %T, want *store.SQLiteStore", gw.store)
	}
	if gw.pipeline == nil || gw.gate == nil || gw.registry == nil {
		t.Error("pipeline, gate and registry should be set")
	}
}

func TestGatewayNew_BadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Backend: "etcd"}

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New() should fail for an unknown storage backend")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger(), WithModel(newScriptedModel()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	waitForHTTP(t, "http://"+cfg.Server.HTTPAddr+"/health")

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("health = %d %q, want 200 OK", resp.StatusCode, body)
	}

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient failed: %v", err)
	}
	defer conn.Close()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer checkCancel()
	hc, err := healthpb.NewHealthClient(conn).Check(checkCtx, &healthpb.HealthCheckRequest{Service: HealthServiceName})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if hc.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("grpc health = %v, want SERVING", hc.GetStatus())
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_WithoutGRPC(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = ""

	gw, err := New(cfg, testLogger(), WithModel(newScriptedModel()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	waitForHTTP(t, "http://"+cfg.Server.HTTPAddr+"/health")
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_RecordsStartTime(t *testing.T) {
	cfg := testConfig(t)
	s := store.NewMemoryStore(0)

	gw, err := New(cfg, testLogger(), WithStore(s), WithModel(newScriptedModel()))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()
	waitForHTTP(t, "http://"+cfg.Server.HTTPAddr+"/health")

	state, err := s.GetSessionState(context.Background(), "system_status")
	if err != nil {
		t.Fatalf("GetSessionState failed: %v", err)
	}
	if state.StartTime.IsZero() {
		t.Error("system_status start time should be set once the gateway runs")
	}
	if state.RequestsProcessed != 0 {
		t.Errorf("RequestsProcessed = %d, want 0", state.RequestsProcessed)
	}

	cancel()
	<-errCh
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "a", nil)
	errs = appendCloseError(errs, "b", io.EOF)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if !errors.Is(errs[0], io.EOF) {
		t.Errorf("appended error should wrap the cause, got %v", errs[0])
	}
}

// waitForHTTP polls url until it answers or two seconds pass
func waitForHTTP(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s did not come up", url)
}
