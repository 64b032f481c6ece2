// Package session holds the in-memory binding from ephemeral session tokens to
// durable user ids. Tokens are minted at login and consulted when a realtime
// connection is accepted; the relay itself never mutates an existing binding.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Resolve for unknown or expired tokens.
var ErrNotFound = errors.New("session not found")

type entry struct {
	userID    string
	createdAt time.Time
}

// Registry is a concurrency-safe session token registry. A user may hold many
// live tokens at once (one per device/login).
type Registry struct {
	mu      sync.RWMutex
	ttl     time.Duration // zero means tokens never expire
	entries map[string]entry
}

// NewRegistry creates a Registry. Tokens older than ttl are rejected and
// swept; a zero ttl disables expiry.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Create mints a new session token bound to userID.
func (r *Registry) Create(userID string) string {
	token := uuid.New().String()
	r.mu.Lock()
	r.entries[token] = entry{userID: userID, createdAt: time.Now()}
	r.mu.Unlock()
	return token
}

// Resolve returns the user id bound to token, or ErrNotFound.
func (r *Registry) Resolve(token string) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[token]
	r.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	if r.expired(e, time.Now()) {
		r.Revoke(token)
		return "", ErrNotFound
	}
	return e.userID, nil
}

// Revoke removes a token. Revoking an unknown token is a no-op.
func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	delete(r.entries, token)
	r.mu.Unlock()
}

// Sweep drops all expired tokens and returns how many were removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for token, e := range r.entries {
		if r.expired(e, now) {
			delete(r.entries, token)
			n++
		}
	}
	return n
}

// Len returns the number of live tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) expired(e entry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.createdAt) > r.ttl
}
