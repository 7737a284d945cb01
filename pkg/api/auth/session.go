// Package auth issues and verifies session tokens. The identity provider
// itself is external; this package only consumes its verdict through the
// IdentityVerifier interface and binds it to a signed session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sharesync/sharesync/pkg/models"
)

// Common errors for session operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidSecretLength = errors.New("session secret must be at least 32 characters")
	ErrPlaceholderSecret   = errors.New("session secret is the sample placeholder, generate a real one with `sharesync init`")
	ErrIdentityRejected    = errors.New("identity provider rejected the credential")
)

// PlaceholderSecret is the sample value shipped in generated default
// configs. Validate refuses it so a copied sample can never sign real
// sessions.
const PlaceholderSecret = "change-me-to-a-32-char-random-secret"

// Identity is the verified verdict of the external identity provider.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier validates a provider credential and returns the
// identity it attests. Implementations must not create sessions; that is
// this package's job.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// Config holds session token settings.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// Issuer is the token issuer claim.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// TTL is the session lifetime.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// CookieName carries the session in browsers; the same token is also
	// accepted as a bearer header.
	CookieName string `mapstructure:"cookie_name" yaml:"cookie_name"`

	// CookieSecure marks the cookie HTTPS-only. Disable only for local
	// development.
	CookieSecure bool `mapstructure:"cookie_secure" yaml:"cookie_secure"`
}

// ApplyDefaults fills in zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "sharesync"
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.CookieName == "" {
		c.CookieName = "sharesync_session"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Secret) < 32 {
		return ErrInvalidSecretLength
	}
	if c.Secret == PlaceholderSecret {
		return ErrPlaceholderSecret
	}
	if c.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SessionService signs and verifies session tokens with HS256.
type SessionService struct {
	cfg Config
	now func() time.Time
}

// NewSessionService creates a session service. The config must already be
// defaulted and validated.
func NewSessionService(cfg Config) *SessionService {
	return &SessionService{cfg: cfg, now: time.Now}
}

// CookieName returns the configured session cookie name.
func (s *SessionService) CookieName() string { return s.cfg.CookieName }

// CookieSecure reports whether the session cookie is HTTPS-only.
func (s *SessionService) CookieSecure() bool { return s.cfg.CookieSecure }

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration { return s.cfg.TTL }

// Issue creates a session token for the user.
func (s *SessionService) Issue(user *models.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.TTL)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		Name:  user.DisplayName,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token.
func (s *SessionService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal is the resolved caller of a request. A zero UserID means
// anonymous.
type Principal struct {
	UserID string
	Email  string
	Name   string
}

// Anonymous reports whether the principal carries no authenticated user.
func (p Principal) Anonymous() bool { return p.UserID == "" }

type principalKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the request principal; the zero value is
// the anonymous principal.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
