package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSProvider validates JWTs minted by an external identity service using the
// issuer's published JWKS. Account creation and login live with the issuer;
// the relay only consumes its tokens.
type JWKSProvider struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewJWKSProvider creates a JWKSProvider that fetches keys from the issuer's
// well-known JWKS endpoint.
func NewJWKSProvider(issuer string) (*JWKSProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("jwks issuer URL is required")
	}

	jwksURL := issuer + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	return &JWKSProvider{
		issuer: issuer,
		jwks:   jwks,
	}, nil
}

// ValidateToken parses an externally-issued JWT and returns an Identity.
func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}

	username := sub
	switch {
	case claimStr(claims, "username") != "":
		username = claimStr(claims, "username")
	case claimStr(claims, "name") != "":
		username = claimStr(claims, "name")
	case claimStr(claims, "email") != "":
		username = claimStr(claims, "email")
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}

	return &Identity{
		UserID:   sub,
		Username: username,
		Role:     role,
	}, nil
}

// Bootstrap is a no-op: users are managed by the external issuer.
func (p *JWKSProvider) Bootstrap(ctx context.Context) error {
	return nil
}

// Name returns the provider name.
func (p *JWKSProvider) Name() string { return "jwks" }

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
