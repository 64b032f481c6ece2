// Package store defines the persistence interface for the relay and provides
// SQLite and PostgreSQL implementations. Stored message bodies are ciphertext
// and are persisted and returned verbatim.
package store

import (
	"context"
	"time"
)

// Store is the persistence interface for accounts and opted-in message history.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetLastLogin(ctx context.Context, id string, at time.Time) error

	// Conversations. A conversation is keyed by the canonical unordered pair
	// of participant ids; retrieval covers both directions, ascending by
	// timestamp.
	AppendConversationMessage(ctx context.Context, msg *StoredMessage) error
	GetConversation(ctx context.Context, userA, userB string) ([]StoredMessage, error)

	// Data retention
	PurgeOldMessages(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents a registered account. PublicKey is the client-published
// encryption key; the relay stores it opaquely for other clients to fetch.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	PublicKey    string     `json:"public_key,omitempty"`
	Role         string     `json:"role"` // "admin" or "user"
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// StoredMessage is one persisted envelope row.
type StoredMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Ciphertext  string    `json:"encrypted_message"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConversationKey returns the canonical unordered pair key for two user ids.
// ConversationKey(a, b) == ConversationKey(b, a).
func ConversationKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}
