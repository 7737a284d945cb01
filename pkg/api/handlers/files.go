package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sharesync/sharesync/internal/metrics"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/gateway"
)

// FilesHandler serves the authenticated owner routes.
type FilesHandler struct {
	gw      *gateway.Gateway
	metrics *metrics.ShareMetrics
}

// NewFilesHandler creates a FilesHandler. m may be nil.
func NewFilesHandler(gw *gateway.Gateway, m *metrics.ShareMetrics) *FilesHandler {
	return &FilesHandler{gw: gw, metrics: m}
}

func requireUser(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal.Anonymous() {
		WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}

type listFilesResponse struct {
	Shares []*gateway.ShareView `json:"shares"`
}

// List handles GET /api/v1/files. Active shares by default; pass
// include_inactive=true for the full history.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireUser(w, r)
	if !ok {
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	views, err := h.gw.ListOwnerShares(r.Context(), principal.UserID, includeInactive)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, listFilesResponse{Shares: views})
}

// Revoke handles DELETE /api/v1/files/{shareID}.
func (h *FilesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.gw.Revoke(r.Context(), chi.URLParam(r, "shareID"), principal.UserID); err != nil {
		WriteDomainError(w, err)
		return
	}
	h.metrics.ShareRevoked()
	w.WriteHeader(http.StatusNoContent)
}

type setPasswordRequest struct {
	// Password empty clears the protection.
	Password string `json:"password"`
}

// SetPassword handles PUT /api/v1/files/{shareID}/password.
func (h *FilesHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.gw.SetPassword(r.Context(), chi.URLParam(r, "shareID"), principal.UserID, req.Password); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
