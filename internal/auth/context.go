// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/2389/campaign-gateway/internal/ratelimit"
)

// AuthContext holds the admitted identity for a request.
// This is populated by the admission middleware and can be retrieved from context in handlers.
type AuthContext struct {
	KeyFingerprint string              // Fingerprint of the presented API key
	ClientIdentity string              // IP or proxy-supplied address the limit was counted against
	RateLimit      *ratelimit.Decision // nil for streaming sessions
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
