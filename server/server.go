// Package server is the main orchestrator that ties all relay components
// together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BjornHgn/securechat/api"
	"github.com/BjornHgn/securechat/auth"
	"github.com/BjornHgn/securechat/config"
	"github.com/BjornHgn/securechat/presence"
	"github.com/BjornHgn/securechat/relay"
	"github.com/BjornHgn/securechat/session"
	"github.com/BjornHgn/securechat/store"
)

// Server is the main relay process.
type Server struct {
	cfg          *config.Config
	store        store.Store
	sessions     *session.Registry
	authProvider auth.Provider
	relay        *relay.Relay
	api          *api.Server
	logger       *slog.Logger
}

// New creates a new server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	sessions := session.NewRegistry(cfg.Auth.SessionTTL.Duration)

	// Create auth provider based on config.
	authProvider, err := auth.NewProvider(cfg.Auth, db, sessions)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Bootstrap (creates initial admin for builtin provider).
	if err := authProvider.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	dir := presence.NewDirectory()
	rly := relay.New(sessions, dir, authProvider, db, logger, relay.Options{
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		MaxMessageBytes:       cfg.Relay.MaxMessageBytes,
		PersistTimeout:        cfg.Relay.PersistTimeout.Duration,
		InsecureFallbackAlias: cfg.Relay.InsecureFallbackAlias,
	})

	apiSrv := api.NewServer(db, authProvider, loginProvider, rly, dir, cfg, logger)

	s := &Server{
		cfg:          cfg,
		store:        db,
		sessions:     sessions,
		authProvider: authProvider,
		relay:        rly,
		api:          apiSrv,
		logger:       logger.With("component", "server"),
	}

	// Startup validation warnings (only for builtin provider).
	if authProvider.Name() == "builtin" && len(cfg.Auth.JWTSecret) < 32 {
		logger.Warn("JWT secret is shorter than 32 characters — use a stronger secret in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}
	if cfg.Relay.InsecureFallbackAlias {
		logger.Warn("insecure_fallback_alias is enabled — unverified user_id aliases can receive messages")
	}

	return s, nil
}

// Run starts the relay HTTP server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.api.Handler(),
	}

	// Start rate limiter cleanup tasks.
	s.api.StartBackgroundTasks(ctx)

	// Expired session tokens are also dropped lazily on resolve; the sweeper
	// keeps the registry from growing with tokens nobody resolves again.
	if s.cfg.Auth.SessionTTL.Duration > 0 {
		go s.runSessionSweeper(ctx)
	}

	// Start retention purger.
	if s.cfg.Storage.Retention.Duration > 0 {
		go s.runRetentionPurger(ctx, s.cfg.Storage.Retention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", s.cfg.Server.Addr)
		if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
		} else {
			s.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			s.logger.Info("http server stopped gracefully")
		}

		s.logger.Info("closing store")
		_ = s.store.Close()
		s.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = s.store.Close()
		return err
	}
}

func (s *Server) runSessionSweeper(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Debug("swept expired session tokens", "count", n)
			}
		}
	}
}

func (s *Server) runRetentionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if n, err := s.store.PurgeOldMessages(ctx, cutoff); err != nil {
				s.logger.Warn("retention purge failed", "error", err)
			} else if n > 0 {
				s.logger.Info("retention purge: deleted old messages", "count", n)
			}
		}
	}
}
