// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides key-value and session state persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. The path ":memory:" opens a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path
	if !inMemory {
		// busy_timeout is per connection, so it goes in the DSN
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is its own database
	if inMemory {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires_at
			ON kv(expires_at) WHERE expires_at IS NOT NULL;

		CREATE TABLE IF NOT EXISTS session_state (
			name TEXT PRIMARY KEY,
			requests_processed INTEGER NOT NULL DEFAULT 0,
			start_time TEXT,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Get returns the value stored under key, or ErrNotFound if the key is
// missing or its expiry has passed.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores value under key, replacing any previous value and expiry
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expiresAt any
	if exp := expiryFor(now, ttl); !exp.IsZero() {
		expiresAt = exp.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, expiresAt, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("putting key %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting key %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes keys whose expiry has passed and returns how many were removed
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging expired keys: %w", err)
	}
	return res.RowsAffected()
}

// GetSessionState returns the persisted state for name
func (s *SQLiteStore) GetSessionState(ctx context.Context, name string) (*SessionState, error) {
	var (
		count     int64
		startTime sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT requests_processed, start_time FROM session_state WHERE name = ?`, name,
	).Scan(&count, &startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return &SessionState{Name: name}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session state %s: %w", name, err)
	}

	state := &SessionState{Name: name, RequestsProcessed: count}
	if startTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, startTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing start_time for %s: %w", name, err)
		}
		state.StartTime = t
	}
	return state, nil
}

// IncrementRequests adds one to the session's request counter
func (s *SQLiteStore) IncrementRequests(ctx context.Context, name string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO session_state (name, requests_processed, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			requests_processed = requests_processed + 1,
			updated_at = excluded.updated_at
		RETURNING requests_processed
	`, name, s.now().UTC().Format(time.RFC3339Nano)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing requests for %s: %w", name, err)
	}
	return count, nil
}

// InitStartTime records t as the session's start time unless one is already set
func (s *SQLiteStore) InitStartTime(ctx context.Context, name string, t time.Time) (time.Time, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_state (name, requests_processed, start_time, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			start_time = COALESCE(session_state.start_time, excluded.start_time),
			updated_at = excluded.updated_at
	`, name, t.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		return time.Time{}, fmt.Errorf("initializing start_time for %s: %w", name, err)
	}

	state, err := s.GetSessionState(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return state.StartTime, nil
}
