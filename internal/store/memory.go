// ABOUTME: In-memory Store implementation with per-key expiry and a size cap
// ABOUTME: Live keys are never evicted; expired keys are swept on a ticker or when the cap is hit

package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMemoryMaxKeys caps the number of keys a MemoryStore holds
const DefaultMemoryMaxKeys = 100000

// ErrStoreFull is returned by MemoryStore.Put when a new key would exceed the
// cap and no expired key can be reclaimed.
var ErrStoreFull = errors.New("memory store is full")

// memoryEntry stores a value and its expiry
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is a thread-safe in-memory Store. Unexpired keys are only
// removed by Delete; at the cap, Put reclaims expired keys or fails.
type MemoryStore struct {
	mu       sync.RWMutex
	kv       map[string]*memoryEntry
	sessions map[string]*SessionState
	maxKeys  int
	now      func() time.Time
	done     chan struct{}
	closed   bool
}

// NewMemoryStore creates an empty in-memory store holding at most maxKeys keys.
// A maxKeys of zero or less uses DefaultMemoryMaxKeys.
// A background goroutine periodically removes expired keys.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = DefaultMemoryMaxKeys
	}
	m := &MemoryStore{
		kv:       make(map[string]*memoryEntry),
		sessions: make(map[string]*SessionState),
		maxKeys:  maxKeys,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// SetClock replaces the store's time source. Intended for tests.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns the value stored under key
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.kv[key]
	if !ok || m.expiredLocked(entry) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Put stores value under key. Overwriting an existing key always succeeds.
// A new key at the cap first purges expired keys and returns ErrStoreFull if
// none could be reclaimed.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	expiresAt := expiryFor(m.now(), ttl)

	if entry, exists := m.kv[key]; exists {
		entry.value = stored
		entry.expiresAt = expiresAt
		return nil
	}

	if len(m.kv) >= m.maxKeys {
		m.purgeLocked()
		if len(m.kv) >= m.maxKeys {
			return ErrStoreFull
		}
	}

	m.kv[key] = &memoryEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Delete removes key
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.kv, key)
	return nil
}

// PurgeExpired removes all expired keys and returns how many were removed
func (m *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(), nil
}

// GetSessionState returns a copy of the state for name
func (m *MemoryStore) GetSessionState(_ context.Context, name string) (*SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, ok := m.sessions[name]; ok {
		cp := *state
		return &cp, nil
	}
	return &SessionState{Name: name}, nil
}

// IncrementRequests adds one to the session's request counter
func (m *MemoryStore) IncrementRequests(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.sessionLocked(name)
	state.RequestsProcessed++
	return state.RequestsProcessed, nil
}

// InitStartTime records t as the start time unless one is already set
func (m *MemoryStore) InitStartTime(_ context.Context, name string, t time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.sessionLocked(name)
	if state.StartTime.IsZero() {
		state.StartTime = t.UTC()
	}
	return state.StartTime, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

// sessionLocked returns the state for name, creating it. Must be called with mu held.
func (m *MemoryStore) sessionLocked(name string) *SessionState {
	state, ok := m.sessions[name]
	if !ok {
		state = &SessionState{Name: name}
		m.sessions[name] = state
	}
	return state
}

func (m *MemoryStore) expiredLocked(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt)
}

// cleanup runs in a background goroutine, periodically removing expired keys.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			m.purgeLocked()
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) purgeLocked() int64 {
	var n int64
	for key, entry := range m.kv {
		if m.expiredLocked(entry) {
			delete(m.kv, key)
			n++
		}
	}
	return n
}
