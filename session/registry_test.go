package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResolve_KnownToken(t *testing.T) {
	r := NewRegistry(0)

	token := r.Create("u1")
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	userID, err := r.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if userID != "u1" {
		t.Errorf("expected u1, got %q", userID)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	r := NewRegistry(0)

	_, err := r.Resolve("no-such-token")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_MultipleTokensPerUser(t *testing.T) {
	r := NewRegistry(0)

	t1 := r.Create("u1")
	t2 := r.Create("u1")
	if t1 == t2 {
		t.Fatal("expected distinct tokens for concurrent logins")
	}

	for _, token := range []string{t1, t2} {
		userID, err := r.Resolve(token)
		if err != nil || userID != "u1" {
			t.Errorf("token %q: got (%q, %v)", token, userID, err)
		}
	}
}

func TestRevoke(t *testing.T) {
	r := NewRegistry(0)
	token := r.Create("u1")

	r.Revoke(token)
	if _, err := r.Resolve(token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}

	// Revoking again is a no-op.
	r.Revoke(token)
}

func TestTTL_ExpiryAndSweep(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	token := r.Create("u1")

	time.Sleep(25 * time.Millisecond)

	if _, err := r.Resolve(token); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}

	fresh := r.Create("u2")
	if n := r.Sweep(); n != 0 {
		// The expired token was already dropped by Resolve.
		t.Errorf("expected 0 swept, got %d", n)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 live token, got %d", r.Len())
	}
	if _, err := r.Resolve(fresh); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				token := r.Create("u1")
				if _, err := r.Resolve(token); err != nil {
					t.Errorf("Resolve failed: %v", err)
					return
				}
				r.Revoke(token)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d tokens", r.Len())
	}
}
