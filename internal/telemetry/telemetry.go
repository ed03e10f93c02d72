// ABOUTME: Fire-and-forget error capture for internal failures
// ABOUTME: Reports to Sentry when a DSN is configured and always logs through slog

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/2389/campaign-gateway/internal/config"
)

// Reporter records internal errors. Implementations must not block the caller
// on network I/O.
type Reporter interface {
	// CaptureError records err with optional key/value tags.
	CaptureError(ctx context.Context, err error, tags ...any)

	// Flush waits up to timeout for buffered reports to be delivered.
	Flush(timeout time.Duration)
}

// New returns a Sentry-backed reporter when cfg names a DSN and a log-only
// reporter otherwise.
func New(cfg config.TelemetryConfig, release string) (Reporter, error) {
	if cfg.SentryDSN == "" {
		return NewLogReporter(), nil
	}
	return NewSentryReporter(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     release,
		Debug:       cfg.Debug,
	})
}

// LogReporter writes captured errors to the structured log
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter that only logs
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: slog.Default().With("component", "telemetry")}
}

// CaptureError logs err at error level
func (r *LogReporter) CaptureError(_ context.Context, err error, tags ...any) {
	r.logger.Error("internal error", append([]any{"error", err}, tags...)...)
}

// Flush is a no-op
func (r *LogReporter) Flush(time.Duration) {}

// SentryReporter sends captured errors to Sentry through a private hub
type SentryReporter struct {
	hub *sentry.Hub
	log *LogReporter
}

// NewSentryReporter creates a reporter with its own Sentry client
func NewSentryReporter(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating sentry client: %w", err)
	}
	return &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: NewLogReporter(),
	}, nil
}

// CaptureError logs err and queues it for Sentry. Tags are key/value pairs.
func (r *SentryReporter) CaptureError(ctx context.Context, err error, tags ...any) {
	r.log.CaptureError(ctx, err, tags...)

	r.hub.WithScope(func(scope *sentry.Scope) {
		for i := 0; i+1 < len(tags); i += 2 {
			scope.SetTag(fmt.Sprint(tags[i]), fmt.Sprint(tags[i+1]))
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events
func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}
