package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BjornHgn/securechat/config"
	"github.com/BjornHgn/securechat/session"
	"github.com/BjornHgn/securechat/store"
)

func setupTestService(t *testing.T) (*Service, *session.Registry) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessions := session.NewRegistry(0)
	svc := NewService(s, sessions, config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long!!",
		JWTExpiry: config.Duration{Duration: time.Hour},
	})
	return svc, sessions
}

func TestRegisterAndLogin(t *testing.T) {
	svc, sessions := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "correct-horse", "pk-alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" || user.Role != "user" || user.PublicKey != "pk-alice" {
		t.Fatalf("unexpected user: %+v", user)
	}

	res, err := svc.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" || res.SessionToken == "" {
		t.Fatal("expected both a JWT and a session token")
	}
	if res.User.LastLogin == nil {
		t.Error("expected last_login to be recorded")
	}

	// The session token resolves to the user.
	userID, err := sessions.Resolve(res.SessionToken)
	if err != nil || userID != user.ID {
		t.Errorf("session token resolution: got (%q, %v)", userID, err)
	}

	// The JWT validates to the same identity.
	identity, err := svc.ValidateToken(ctx, res.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.UserID != user.ID || identity.Username != "alice" {
		t.Errorf("unexpected identity: %+v", identity)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "bob", "hunter2", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Login(ctx, "bob", "hunter3"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "carol", "pw-one-two", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, "carol", "pw-three-four", ""); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc, _ := setupTestService(t)

	if _, err := svc.ValidateToken(context.Background(), "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "dave", "some-password", ""); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Login(ctx, "dave", "some-password")
	if err != nil {
		t.Fatal(err)
	}

	other := NewService(nil, session.NewRegistry(0), config.AuthConfig{
		JWTSecret: "a-completely-different-32-char-secret",
		JWTExpiry: config.Duration{Duration: time.Hour},
	})
	if _, err := other.ValidateToken(ctx, res.Token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for foreign-signed token, got %v", err)
	}
}

func TestBootstrap_InitialAdmin(t *testing.T) {
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.AuthConfig{
		JWTSecret:    "test-secret-at-least-32-chars-long!!",
		JWTExpiry:    config.Duration{Duration: time.Hour},
		InitialAdmin: &config.InitialAdmin{Username: "admin", Password: "bootstrap-pass"},
	}
	svc := NewService(s, session.NewRegistry(0), cfg)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	// Idempotent.
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap (second run): %v", err)
	}

	admin, err := s.GetUserByUsername(ctx, "admin")
	if err != nil || admin == nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != "admin" {
		t.Errorf("expected admin role, got %q", admin.Role)
	}

	if _, err := svc.Login(ctx, "admin", "bootstrap-pass"); err != nil {
		t.Errorf("admin login failed: %v", err)
	}
}
