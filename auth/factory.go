package auth

import (
	"fmt"

	"github.com/BjornHgn/securechat/config"
	"github.com/BjornHgn/securechat/session"
	"github.com/BjornHgn/securechat/store"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig, s store.Store, sessions *session.Registry) (Provider, error) {
	switch cfg.Provider {
	case "jwks":
		return NewJWKSProvider(cfg.JWKSIssuer)
	case "builtin", "":
		return NewService(s, sessions, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
