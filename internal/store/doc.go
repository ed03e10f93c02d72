// Package store provides persistence for campaign-gateway.
//
// # Architecture
//
// The package exposes two small interfaces that together form Store:
//
//   - KV: a flat key-value namespace with optional per-key expiry. It holds
//     the api_keys allow-list, ratelimit:<client> counters, and
//     results:<request id> records.
//   - StateStore: per-name session state (requests_processed, start_time)
//     for creator_<id>, reviewer_<id>, and system_status sessions.
//
// # Backends
//
//   - SQLiteStore: modernc.org/sqlite, the default. ":memory:" is accepted.
//   - RedisStore: go-redis; expiry is native, session state uses hashes.
//   - PostgresStore: pgx pool with an embedded schema.
//   - MemoryStore: size-capped map, used by the memory backend and tests.
//
// Open selects a backend from config.StorageConfig. Backends that keep
// expired rows around until read also implement Purger, and RunJanitor
// sweeps them periodically.
//
// # Semantics
//
// Get returns ErrNotFound for missing and expired keys alike. Reads of a
// session that was never written return a zero SessionState.
// IncrementRequests is atomic per backend; InitStartTime is first-writer-wins.
package store
