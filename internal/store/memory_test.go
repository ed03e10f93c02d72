// ABOUTME: Tests for the in-memory store
// ABOUTME: Covers expiry, the size cap, purge, and defensive copies

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if err := s.Put(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	now = now.Add(time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry error = %v, want ErrNotFound", err)
	}

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("PurgeExpired = %d, want 1", n)
	}
}

func TestMemoryStore_CapNeverDropsLiveKeys(t *testing.T) {
	s := NewMemoryStore(3)
	defer s.Close()
	ctx := context.Background()

	if err := s.Put(ctx, "results:abc", []byte("{}"), 168*time.Hour); err != nil {
		t.Fatalf("Put(results:abc) failed: %v", err)
	}
	for _, k := range []string{"ratelimit:a", "ratelimit:b"} {
		if err := s.Put(ctx, k, []byte("1"), 0); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}

	if err := s.Put(ctx, "ratelimit:c", []byte("1"), 0); !errors.Is(err, ErrStoreFull) {
		t.Errorf("Put past the cap error = %v, want ErrStoreFull", err)
	}
	if _, err := s.Get(ctx, "results:abc"); err != nil {
		t.Errorf("unexpired result was dropped: %v", err)
	}

	// overwriting an existing key is allowed at the cap
	if err := s.Put(ctx, "ratelimit:a", []byte("2"), 0); err != nil {
		t.Errorf("overwrite at the cap failed: %v", err)
	}
}

func TestMemoryStore_CapReclaimsExpiredKeys(t *testing.T) {
	s := NewMemoryStore(2)
	defer s.Close()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	_ = s.Put(ctx, "short", []byte("1"), time.Second)
	_ = s.Put(ctx, "long", []byte("2"), time.Hour)

	now = now.Add(2 * time.Second)
	if err := s.Put(ctx, "new", []byte("3"), 0); err != nil {
		t.Fatalf("Put after expiry failed: %v", err)
	}
	for _, k := range []string{"long", "new"} {
		if _, err := s.Get(ctx, k); err != nil {
			t.Errorf("Get(%s) failed: %v", k, err)
		}
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx := context.Background()

	buf := []byte("abc")
	_ = s.Put(ctx, "k", buf, 0)
	buf[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed through caller buffer: %q", got)
	}
	got[1] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value changed through returned buffer: %q", again)
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore(0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestRunJanitor_PurgesUntilCancelled(t *testing.T) {
	s := NewMemoryStore(0)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	_ = s.Put(context.Background(), "k", []byte("v"), time.Nanosecond)
	s.SetClock(func() time.Time { return now.Add(time.Second) })

	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, s, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		s.mu.RLock()
		remaining := len(s.kv)
		s.mu.RUnlock()
		if remaining == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("janitor did not purge expired key")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}
