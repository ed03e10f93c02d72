// ABOUTME: PostgreSQL implementation of the Store interface using pgx connection pools
// ABOUTME: Applies an embedded schema on startup and stores values as BYTEA

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresStore implements the Store interface on PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresStore creates a connection pool, fails fast if the database is
// unreachable, and applies the schema. Safe to run against an existing database.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized")
	return &PostgresStore{pool: pool, logger: logger, now: time.Now}, nil
}

// Get returns the value stored under key
func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, p.now(),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value and expiry
func (p *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := p.now()
	var expiresAt *time.Time
	if exp := expiryFor(now, ttl); !exp.IsZero() {
		expiresAt = &exp
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, key, value, expiresAt, now)
	if err != nil {
		return fmt.Errorf("putting key %s: %w", key, err)
	}
	return nil
}

// Delete removes key
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes keys whose expiry has passed
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= $1`, p.now())
	if err != nil {
		return 0, fmt.Errorf("purging expired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetSessionState returns the persisted state for name
func (p *PostgresStore) GetSessionState(ctx context.Context, name string) (*SessionState, error) {
	var (
		count     int64
		startTime *time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT requests_processed, start_time FROM session_state WHERE name = $1`, name,
	).Scan(&count, &startTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return &SessionState{Name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session state %s: %w", name, err)
	}

	state := &SessionState{Name: name, RequestsProcessed: count}
	if startTime != nil {
		state.StartTime = startTime.UTC()
	}
	return state, nil
}

// IncrementRequests adds one to the session's request counter
func (p *PostgresStore) IncrementRequests(ctx context.Context, name string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO session_state (name, requests_processed, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (name) DO UPDATE SET
			requests_processed = session_state.requests_processed + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING requests_processed
	`, name, p.now()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing requests for %s: %w", name, err)
	}
	return count, nil
}

// InitStartTime records t as the start time unless one is already set
func (p *PostgresStore) InitStartTime(ctx context.Context, name string, t time.Time) (time.Time, error) {
	var stored time.Time
	err := p.pool.QueryRow(ctx, `
		INSERT INTO session_state (name, requests_processed, start_time, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			start_time = COALESCE(session_state.start_time, EXCLUDED.start_time),
			updated_at = EXCLUDED.updated_at
		RETURNING start_time
	`, name, t.UTC(), p.now()).Scan(&stored)
	if err != nil {
		return time.Time{}, fmt.Errorf("initializing start_time for %s: %w", name, err)
	}
	return stored.UTC(), nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool
func (p *PostgresStore) Close() error {
	p.logger.Info("closing Postgres store")
	p.pool.Close()
	return nil
}
