// ABOUTME: Fixed-window request counter per client identity, persisted in the KV store
// ABOUTME: Every attempt increments and writes back, including rejected ones

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/campaign-gateway/internal/store"
)

// KeyPrefix namespaces counters in the KV store
const KeyPrefix = "ratelimit:"

// Counter is the persisted window state. Timestamp is the window start in
// Unix milliseconds.
type Counter struct {
	Count     int64 `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

// Decision captures the evaluated rate limit outcome.
type Decision struct {
	Allowed    bool
	Remaining  int64
	Limit      int64
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// Limiter decides whether a client may make another request in the current window
type Limiter struct {
	kv     store.KV
	limit  int64
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a limiter allowing limit attempts per window for each identity
func New(kv store.KV, limit int, window time.Duration) *Limiter {
	return &Limiter{
		kv:     kv,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit"),
	}
}

// SetClock replaces the limiter's time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Key returns the KV key holding the counter for identity
func Key(identity string) string {
	return KeyPrefix + identity
}

// Allow records one attempt for identity and reports whether it is within the limit.
// The counter is read, reset if its window has elapsed, incremented and written
// back before the decision is returned. There is no compare-and-swap, so
// concurrent attempts from the same identity may under-count.
func (l *Limiter) Allow(ctx context.Context, identity string) (*Decision, error) {
	key := Key(identity)
	now := l.now()
	nowMs := now.UnixMilli()

	var c Counter
	err := store.GetJSON(ctx, l.kv, key, &c)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		c = Counter{Timestamp: nowMs}
	default:
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("loading rate limit counter: %w", err)
		}
		l.logger.Warn("discarding malformed rate limit counter", "key", key, "error", err)
		c = Counter{Timestamp: nowMs}
	}

	if nowMs-c.Timestamp > l.window.Milliseconds() {
		c = Counter{Timestamp: nowMs}
	}
	c.Count++

	if err := store.PutJSON(ctx, l.kv, key, c, 0); err != nil {
		return nil, fmt.Errorf("saving rate limit counter: %w", err)
	}

	resetAfter := time.UnixMilli(c.Timestamp).Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	d := &Decision{
		Allowed:    c.Count <= l.limit,
		Remaining:  max(l.limit-c.Count, 0),
		Limit:      l.limit,
		ResetAfter: resetAfter,
	}
	if !d.Allowed {
		d.RetryAfter = resetAfter
		l.logger.Debug("rate limit exceeded", "identity", identity, "count", c.Count)
	}
	return d, nil
}
