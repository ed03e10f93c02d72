// ABOUTME: Admission gate combining bearer authentication and per-client rate limiting
// ABOUTME: Produces AdmissionError values that map onto authentication_failed and rate_limit_exceeded

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/campaign-gateway/internal/ratelimit"
)

var (
	// ErrAuthFailed is matched by every authentication rejection
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited is matched when the client exceeded its window
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Messages reported to callers
const (
	MsgMissingKey  = "API key is missing or invalid"
	MsgInvalidKey  = "API key is invalid"
	MsgRateLimited = "Rate limit exceeded for requests per minute"
)

// AdmissionError describes why a request was not admitted
type AdmissionError struct {
	Err      error // ErrAuthFailed or ErrRateLimited
	Message  string
	Decision *ratelimit.Decision // set for rate limit rejections
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// Gate admits requests that carry an allow-listed bearer token and are
// within their client's rate limit.
type Gate struct {
	allow   *AllowList
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewGate creates an admission gate
func NewGate(allow *AllowList, limiter *ratelimit.Limiter) *Gate {
	return &Gate{
		allow:   allow,
		limiter: limiter,
		logger:  slog.Default().With("component", "auth"),
	}
}

// AllowList returns the gate's allow-list
func (g *Gate) AllowList() *AllowList {
	return g.allow
}

// Admit authenticates authHeader and then counts one attempt for identity.
// The rate limit is only consulted once authentication has passed.
func (g *Gate) Admit(ctx context.Context, authHeader, identity string) (*AuthContext, error) {
	token, errMsg := extractBearerToken(authHeader)
	if errMsg != "" {
		g.logger.Debug("rejecting request", "reason", errMsg, "client", identity)
		return nil, &AdmissionError{Err: ErrAuthFailed, Message: MsgMissingKey}
	}

	ok, err := g.allow.Contains(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		g.logger.Debug("rejecting request", "reason", "unknown key", "client", identity)
		return nil, &AdmissionError{Err: ErrAuthFailed, Message: MsgInvalidKey}
	}

	decision, err := g.limiter.Allow(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &AdmissionError{Err: ErrRateLimited, Message: MsgRateLimited, Decision: decision}
	}

	return &AuthContext{
		KeyFingerprint: Fingerprint(token),
		ClientIdentity: identity,
		RateLimit:      decision,
	}, nil
}

// Authenticate checks a bare API key without counting a rate limit attempt.
// Used by the streaming session's auth message.
func (g *Gate) Authenticate(ctx context.Context, apiKey string) (*AuthContext, error) {
	ok, err := g.allow.Contains(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &AdmissionError{Err: ErrAuthFailed, Message: "Invalid API key"}
	}
	return &AuthContext{KeyFingerprint: Fingerprint(apiKey)}, nil
}
