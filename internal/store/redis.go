// ABOUTME: Redis implementation of the Store interface using go-redis
// ABOUTME: Keys map directly to Redis strings; session state lives in per-name hashes

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// RedisStore implements the Store interface on top of a Redis server
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis using a redis:// URL or a bare host:port
// and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	logger := slog.Default().With("component", "store")

	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger.Info("Redis store initialized", "addr", client.Options().Addr)
	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		logger: slog.Default().With("component", "store"),
	}
}

// Get returns the value stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}
	return data, nil
}

// Put stores value under key. Redis handles expiry natively.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("putting key %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// GetSessionState reads the session hash for name
func (s *RedisStore) GetSessionState(ctx context.Context, name string) (*SessionState, error) {
	data, err := s.client.HGetAll(ctx, sessionKeyPrefix+name).Result()
	if err != nil {
		return nil, fmt.Errorf("getting session state %s: %w", name, err)
	}

	state := &SessionState{Name: name}
	if len(data) == 0 {
		return state, nil
	}
	if raw, ok := data["requests_processed"]; ok {
		var n int64
		if _, err := fmt.Sscan(raw, &n); err == nil {
			state.RequestsProcessed = n
		}
	}
	if raw, ok := data["start_time"]; ok && raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing start_time for %s: %w", name, err)
		}
		state.StartTime = t
	}
	return state, nil
}

// IncrementRequests atomically bumps the session's request counter
func (s *RedisStore) IncrementRequests(ctx context.Context, name string) (int64, error) {
	n, err := s.client.HIncrBy(ctx, sessionKeyPrefix+name, "requests_processed", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing requests for %s: %w", name, err)
	}
	return n, nil
}

// InitStartTime sets start_time with HSETNX so the first writer wins
func (s *RedisStore) InitStartTime(ctx context.Context, name string, t time.Time) (time.Time, error) {
	key := sessionKeyPrefix + name
	if err := s.client.HSetNX(ctx, key, "start_time", t.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return time.Time{}, fmt.Errorf("initializing start_time for %s: %w", name, err)
	}

	raw, err := s.client.HGet(ctx, key, "start_time").Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading start_time for %s: %w", name, err)
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	s.logger.Info("closing Redis store")
	return s.client.Close()
}
