// Package auth provides account authentication for the relay: password login,
// JWT issuance/validation, and realtime session token minting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/BjornHgn/securechat/config"
	"github.com/BjornHgn/securechat/session"
	"github.com/BjornHgn/securechat/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Identity is a validated caller identity.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Provider validates bearer tokens for HTTP requests and realtime connects.
type Provider interface {
	ValidateToken(ctx context.Context, tokenStr string) (*Identity, error)
	Bootstrap(ctx context.Context) error
	Name() string
}

// LoginProvider handles account creation and password login. Only the builtin
// provider implements it; with an external issuer, login happens elsewhere.
type LoginProvider interface {
	Register(ctx context.Context, username, password, publicKey string) (*store.User, error)
	Login(ctx context.Context, username, password string) (*LoginResult, error)
}

// LoginResult is what a successful login hands back to the client: a bearer
// token for the HTTP API and a session token for the realtime channel.
type LoginResult struct {
	Token        string
	SessionToken string
	User         *store.User
}

// Claims represents the JWT token claims.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"usr"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service is the builtin auth provider. It implements Provider and LoginProvider.
type Service struct {
	store        store.Store
	sessions     *session.Registry
	jwtSecret    []byte
	jwtExpiry    time.Duration
	initialAdmin *config.InitialAdmin
}

// NewService creates the builtin auth service.
func NewService(s store.Store, sessions *session.Registry, cfg config.AuthConfig) *Service {
	return &Service{
		store:        s,
		sessions:     sessions,
		jwtSecret:    []byte(cfg.JWTSecret),
		jwtExpiry:    cfg.JWTExpiry.Duration,
		initialAdmin: cfg.InitialAdmin,
	}
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Bootstrap creates the initial admin user if configured and not yet present.
func (s *Service) Bootstrap(ctx context.Context) error {
	admin := s.initialAdmin
	if admin == nil {
		return nil
	}

	existing, err := s.store.GetUserByUsername(ctx, admin.Username)
	if err != nil {
		return fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil // already bootstrapped
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.store.CreateUser(ctx, &store.User{
		ID:           uuid.New().String(),
		Username:     admin.Username,
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    time.Now(),
	})
}

// Register creates a new user account. publicKey is the client-published
// encryption key and is stored opaquely.
func (s *Service) Register(ctx context.Context, username, password, publicKey string) (*store.User, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
		PublicKey:    publicKey,
		Role:         "user",
		CreatedAt:    time.Now(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Login authenticates a user, mints a JWT plus a realtime session token, and
// records the login time.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now()
	if err := s.store.SetLastLogin(ctx, user.ID, now); err == nil {
		user.LastLogin = &now
	}

	return &LoginResult{
		Token:        token,
		SessionToken: s.sessions.Create(user.ID),
		User:         user,
	}, nil
}

// ValidateToken validates a bearer token and returns an Identity.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	return claims, nil
}

func (s *Service) generateToken(user *store.User) (string, error) {
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
