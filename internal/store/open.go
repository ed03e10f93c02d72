// ABOUTME: Backend selection for the configured store
// ABOUTME: Maps storage.backend to a concrete Store and runs the expiry janitor

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/campaign-gateway/internal/config"
)

// Open creates the Store selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.URL)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.URL)
	case config.BackendMemory:
		return NewMemoryStore(0), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// RunJanitor periodically purges expired keys from stores that implement
// Purger. It returns when ctx is cancelled. Stores without expiry
// bookkeeping return immediately.
func RunJanitor(ctx context.Context, s Store, interval time.Duration) {
	purger, ok := s.(Purger)
	if !ok {
		return
	}
	logger := slog.Default().With("component", "store")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purging expired keys failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired keys", "count", n)
			}
		}
	}
}
