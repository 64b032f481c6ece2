// Package api provides the HTTP API and middleware for the relay.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/BjornHgn/securechat/auth"
	"github.com/BjornHgn/securechat/config"
	"github.com/BjornHgn/securechat/presence"
	"github.com/BjornHgn/securechat/relay"
	"github.com/BjornHgn/securechat/store"
)

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	authProvider  auth.Provider
	loginProvider auth.LoginProvider
	relay         *relay.Relay
	presence      *presence.Directory
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time
	maxBodyBytes  int64
	loginRL       *rateLimiter
	rl            *rateLimiter
}

// NewServer creates a new API server. lp is nil when login is handled by an
// external issuer; register/login routes are only mounted for builtin auth.
func NewServer(s store.Store, ap auth.Provider, lp auth.LoginProvider, rly *relay.Relay, dir *presence.Directory, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:         s,
		authProvider:  ap,
		loginProvider: lp,
		relay:         rly,
		presence:      dir,
		logger:        logger.With("component", "api"),
		startTime:     time.Now(),
		maxBodyBytes:  cfg.Server.MaxBodyBytes,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Auth config endpoint (unauthenticated)
	mux.Get("/api/auth/config", srv.handleAuthConfig)

	// Register/login only exist with builtin auth, rate-limited by IP.
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(ipRateLimitMiddleware(srv.loginRL)).Post("/api/auth/register", srv.handleRegister)
		mux.With(ipRateLimitMiddleware(srv.loginRL)).Post("/api/auth/login", srv.handleLogin)
	}

	// Realtime channel (auth handled inside, pre-upgrade).
	mux.Get("/ws", rly.HandleWS)

	// Authenticated API routes
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/auth/users", srv.handleListUsers)
		r.Get("/api/messages/history/{recipientID}", srv.handleGetHistory)
		r.Get("/api/presence", srv.handleGetPresence)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Auth handlers ---

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.authProvider.Name()})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		PublicKey string `json:"public_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}
	if len(req.Password) < 8 || len(req.Password) > 128 {
		writeError(w, http.StatusBadRequest, "password must be 8-128 characters")
		return
	}

	user, err := s.loginProvider.Register(r.Context(), req.Username, req.Password, req.PublicKey)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		s.logger.Warn("register failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}

	result, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      result.Token,
		"session_id": result.SessionToken,
		"user":       result.User,
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       identity.UserID,
		"username": identity.Username,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// --- Message history ---

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	recipientID := chi.URLParam(r, "recipientID")

	// Both ends of the conversation must be known accounts.
	for _, id := range []string{identity.UserID, recipientID} {
		exists, err := s.store.UserExists(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check users")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
	}

	msgs, err := s.store.GetConversation(r.Context(), identity.UserID, recipientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}
	if msgs == nil {
		msgs = []store.StoredMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// --- Presence ---

func (s *Server) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	users := s.presence.Users()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"online":      users,
		"connections": s.relay.ConnCount(),
	})
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
