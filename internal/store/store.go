// ABOUTME: Store interfaces and data types for campaign-gateway persistence
// ABOUTME: Defines the key-value namespace, per-name session state, and JSON helpers

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key is missing or has expired
var ErrNotFound = errors.New("not found")

// KV is a key-value namespace with optional per-key expiry.
// A ttl of zero stores the value without expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SessionState is the persisted state of one named session
type SessionState struct {
	Name              string
	RequestsProcessed int64
	StartTime         time.Time // zero until first initialised
}

// StateStore persists session state keyed by session name.
// Rows are created lazily by the first write.
type StateStore interface {
	// GetSessionState returns the state for name. A session that was never
	// written returns a zero state, not ErrNotFound.
	GetSessionState(ctx context.Context, name string) (*SessionState, error)

	// IncrementRequests adds one to requests_processed and returns the new value.
	IncrementRequests(ctx context.Context, name string) (int64, error)

	// InitStartTime sets start_time if it is unset and returns the stored value.
	InitStartTime(ctx context.Context, name string, t time.Time) (time.Time, error)
}

// Store combines the key-value namespace and session state persistence
type Store interface {
	KV
	StateStore

	// Ping checks connectivity to the backing service.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}

// Purger is implemented by backends that need expired keys removed explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// GetJSON loads key and unmarshals it into out.
func GetJSON(ctx context.Context, kv KV, key string, out any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, kv KV, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return kv.Put(ctx, key, data, ttl)
}

// expiryFor returns the absolute expiry for ttl, or the zero time for no expiry.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
