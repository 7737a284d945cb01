package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sharesync/sharesync/pkg/models"
)

func newTestService(t *testing.T) *SessionService {
	t.Helper()
	cfg := Config{Secret: "0123456789abcdef0123456789abcdef"}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return NewSessionService(cfg)
}

func TestConfigValidate(t *testing.T) {
	t.Run("short secret", func(t *testing.T) {
		cfg := Config{Secret: "too-short"}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidSecretLength) {
			t.Errorf("expected ErrInvalidSecretLength, got %v", err)
		}
	})

	t.Run("placeholder secret", func(t *testing.T) {
		cfg := Config{Secret: PlaceholderSecret}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); !errors.Is(err, ErrPlaceholderSecret) {
			t.Errorf("expected ErrPlaceholderSecret, got %v", err)
		}
	})
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(t)
	user := &models.User{ID: "u-1", Email: "alice@example.com", DisplayName: "Alice"}

	token, expiresAt, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiry in the past: %v", expiresAt)
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "alice@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyRejections(t *testing.T) {
	svc := newTestService(t)
	user := &models.User{ID: "u-1", Email: "alice@example.com"}

	t.Run("garbage token", func(t *testing.T) {
		if _, err := svc.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessionService(Config{
			Secret:     "ffffffffffffffffffffffffffffffff",
			Issuer:     "sharesync",
			TTL:        time.Hour,
			CookieName: "sharesync_session",
		})
		token, _, err := other.Issue(user)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token, _, err := svc.Issue(user)
		if err != nil {
			t.Fatal(err)
		}
		svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
		defer func() { svc.now = time.Now }()
		if _, err := svc.Verify(token); !errors.Is(err, ErrExpiredToken) {
			t.Errorf("got %v", err)
		}
	})
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if p := PrincipalFromContext(ctx); !p.Anonymous() {
		t.Errorf("empty context yields %+v", p)
	}

	ctx = WithPrincipal(ctx, Principal{UserID: "u-1", Email: "a@b.c"})
	p := PrincipalFromContext(ctx)
	if p.Anonymous() || p.UserID != "u-1" {
		t.Errorf("got %+v", p)
	}
}

func TestUserinfoVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id": "sub-1", "email": "alice@example.com", "name": "Alice",
			})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	v := NewUserinfoVerifier(srv.URL)

	id, err := v.Verify(context.Background(), "good")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "sub-1" || id.Email != "alice@example.com" {
		t.Errorf("identity = %+v", id)
	}

	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, ErrIdentityRejected) {
		t.Errorf("got %v", err)
	}
}
