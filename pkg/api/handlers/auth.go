package handlers

import (
	"net/http"
	"time"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/store"
)

// AuthHandler exchanges identity-provider credentials for sessions.
type AuthHandler struct {
	verifier auth.IdentityVerifier
	sessions *auth.SessionService
	users    store.UserStore
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(verifier auth.IdentityVerifier, sessions *auth.SessionService, users store.UserStore) *AuthHandler {
	return &AuthHandler{verifier: verifier, sessions: sessions, users: users}
}

type createSessionRequest struct {
	AccessToken string `json:"access_token"`
}

type sessionUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type createSessionResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      sessionUser `json:"user"`
}

// CreateSession handles POST /api/v1/auth/session. The access token is
// verified against the identity provider, the user is upserted and a
// session is issued both as a JSON token and as an HttpOnly cookie.
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AccessToken == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationFailed, "access_token is required")
		return
	}

	identity, err := h.verifier.Verify(r.Context(), req.AccessToken)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	user, err := h.users.UpsertUser(r.Context(), identity.Email, identity.Name)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	token, expiresAt, err := h.sessions.Issue(user)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.sessions.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})

	logger.Info("session created", "user_id", user.ID)
	WriteJSON(w, http.StatusOK, createSessionResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		User: sessionUser{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
		},
	})
}

// DeleteSession handles DELETE /api/v1/auth/session. Sessions are
// stateless, so logout only clears the cookie.
func (h *AuthHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.sessions.CookieSecure(),
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireUser(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetUserByID(r.Context(), principal.UserID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sessionUser{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
}
