package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMessage(t *testing.T, s Store, sender, recipient, ciphertext string, at time.Time) *StoredMessage {
	t.Helper()
	msg := &StoredMessage{
		ID:          uuid.New().String(),
		SenderID:    sender,
		RecipientID: recipient,
		Ciphertext:  ciphertext,
		Timestamp:   at,
	}
	if err := s.AppendConversationMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestConversationKey_Canonical(t *testing.T) {
	if ConversationKey("alice", "bob") != ConversationKey("bob", "alice") {
		t.Error("conversation key must be order-independent")
	}
	if ConversationKey("alice", "bob") != "alice:bob" {
		t.Errorf("unexpected key: %q", ConversationKey("alice", "bob"))
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &User{
		ID:           uuid.New().String(),
		Username:     "alice",
		PasswordHash: "x",
		PublicKey:    "pk-alice",
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got == nil || got.ID != user.ID || got.PublicKey != "pk-alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.LastLogin != nil {
		t.Error("expected nil last_login before first login")
	}

	exists, err := s.UserExists(ctx, user.ID)
	if err != nil || !exists {
		t.Errorf("UserExists: got (%t, %v)", exists, err)
	}
	exists, err = s.UserExists(ctx, "nope")
	if err != nil || exists {
		t.Errorf("UserExists for unknown id: got (%t, %v)", exists, err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := s.SetLastLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("SetLastLogin: %v", err)
	}
	got, err = s.GetUserByID(ctx, user.ID)
	if err != nil || got == nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.LastLogin == nil || !got.LastLogin.Equal(at) {
		t.Errorf("last_login not recorded: %v", got.LastLogin)
	}
}

func TestGetUser_MissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetUserByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing user, got %+v", got)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{ID: uuid.New().String(), Username: "dup", PasswordHash: "x", Role: "user", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	u2 := &User{ID: uuid.New().String(), Username: "dup", PasswordHash: "x", Role: "user", CreatedAt: time.Now()}
	if err := s.CreateUser(ctx, u2); err == nil {
		t.Error("expected unique-constraint error for duplicate username")
	}
}

func TestConversation_BothDirectionsAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	seedMessage(t, s, "alice", "bob", "c1", base)
	seedMessage(t, s, "bob", "alice", "c2", base.Add(time.Minute))
	seedMessage(t, s, "alice", "bob", "c3", base.Add(2*time.Minute))
	// A different pair must not bleed in.
	seedMessage(t, s, "alice", "carol", "other", base)

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		msgs, err := s.GetConversation(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetConversation(%v): %v", pair, err)
		}
		if len(msgs) != 3 {
			t.Fatalf("GetConversation(%v): expected 3 messages, got %d", pair, len(msgs))
		}
		for i, want := range []string{"c1", "c2", "c3"} {
			if msgs[i].Ciphertext != want {
				t.Errorf("GetConversation(%v)[%d]: got %q, want %q", pair, i, msgs[i].Ciphertext, want)
			}
		}
	}
}

func TestConversation_EmptyPair(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.GetConversation(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty conversation, got %d messages", len(msgs))
	}
}

func TestConversation_CiphertextVerbatim(t *testing.T) {
	s := newTestStore(t)
	raw := `U2FsdGVkX1+ab/==:{"not":"json"}` + "\n\x00tail"

	seedMessage(t, s, "u1", "u2", raw, time.Now().UTC())

	msgs, err := s.GetConversation(context.Background(), "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Ciphertext != raw {
		t.Errorf("ciphertext not preserved verbatim: %q", msgs[0].Ciphertext)
	}
}

func TestPurgeOldMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	seedMessage(t, s, "u1", "u2", "old", now.Add(-48*time.Hour))
	seedMessage(t, s, "u1", "u2", "new", now)

	n, err := s.PurgeOldMessages(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldMessages: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}

	msgs, err := s.GetConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Ciphertext != "new" {
		t.Errorf("unexpected survivors: %+v", msgs)
	}
}
