// Package handlers implements the public HTTP API. Handlers translate
// between the JSON surface and the gateway, store and hub; all policy
// lives in those layers.
package handlers

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sharesync/sharesync/internal/metrics"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/gateway"
	"github.com/sharesync/sharesync/pkg/models"
	"github.com/sharesync/sharesync/pkg/ratelimit"
	"github.com/sharesync/sharesync/pkg/storage"
)

// ShareHandler serves the cloud-mode share routes.
type ShareHandler struct {
	gw      *gateway.Gateway
	metrics *metrics.ShareMetrics
}

// NewShareHandler creates a ShareHandler. m may be nil.
func NewShareHandler(gw *gateway.Gateway, m *metrics.ShareMetrics) *ShareHandler {
	return &ShareHandler{gw: gw, metrics: m}
}

type presignUploadRequest struct {
	Filename      string `json:"filename"`
	SizeBytes     int64  `json:"size_bytes"`
	MimeType      string `json:"mime_type"`
	ExpirySeconds int64  `json:"expiry_seconds"`
	Password      string `json:"password,omitempty"`
	DownloadLimit int    `json:"download_limit,omitempty"`
}

type presignUploadResponse struct {
	ShareID        string                `json:"share_id"`
	Upload         *storage.PresignedURL `json:"upload"`
	ShareExpiresAt time.Time             `json:"share_expires_at"`
}

// PresignUpload handles POST /api/v1/upload/presign.
func (h *ShareHandler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req presignUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal := auth.PrincipalFromContext(r.Context())
	var owner *string
	if !principal.Anonymous() {
		owner = &principal.UserID
	}

	grant, err := h.gw.IssueUpload(r.Context(), gateway.UploadRequest{
		OwnerUserID:   owner,
		OriginalName:  req.Filename,
		SizeBytes:     req.SizeBytes,
		MimeType:      req.MimeType,
		Expiry:        time.Duration(req.ExpirySeconds) * time.Second,
		Password:      req.Password,
		DownloadLimit: req.DownloadLimit,
	})
	if err != nil {
		h.recordRejection(err)
		WriteDomainError(w, err)
		return
	}

	h.metrics.UploadIssued()
	WriteJSON(w, http.StatusCreated, presignUploadResponse{
		ShareID:        grant.ShareID,
		Upload:         grant.Upload,
		ShareExpiresAt: grant.ExpiresAt,
	})
}

func (h *ShareHandler) recordRejection(err error) {
	switch {
	case errors.Is(err, models.ErrOversize):
		h.metrics.PolicyRejection(CodeOversize)
	case errors.Is(err, models.ErrUnsupportedMedia):
		h.metrics.PolicyRejection(CodeUnsupportedMedia)
	case errors.Is(err, models.ErrInvalidExpiry):
		h.metrics.PolicyRejection(CodeValidationFailed)
	case errors.Is(err, models.ErrQuotaExceeded):
		h.metrics.PolicyRejection(CodeQuotaExceeded)
	}
}

type finalizeUploadRequest struct {
	ShareID string `json:"share_id"`
}

// FinalizeUpload handles POST /api/v1/upload/finalize.
func (h *ShareHandler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	var req finalizeUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ShareID == "" {
		WriteError(w, http.StatusBadRequest, CodeValidationFailed, "share_id is required")
		return
	}

	share, err := h.gw.FinalizeUpload(r.Context(), req.ShareID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	h.metrics.UploadFinalized()
	WriteJSON(w, http.StatusOK, gateway.NewShareView(share))
}

// GetShare handles GET /api/v1/share/{shareID}. Metadata only, never a
// presigned URL.
func (h *ShareHandler) GetShare(w http.ResponseWriter, r *http.Request) {
	view, err := h.gw.GetShareView(r.Context(), chi.URLParam(r, "shareID"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

type downloadRequest struct {
	Password string `json:"password,omitempty"`
}

type downloadResponse struct {
	DownloadURL   string    `json:"download_url"`
	Filename      string    `json:"filename"`
	SizeBytes     int64     `json:"size_bytes"`
	ExpiresAt     time.Time `json:"expires_at"`
	DownloadCount int       `json:"download_count"`
}

// Download handles POST /api/v1/share/{shareID}/download.
func (h *ShareHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	// The body is optional for unprotected shares.
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	requesterHash := ratelimit.HashIP(clientIP(r))
	grant, err := h.gw.IssueDownload(r.Context(), chi.URLParam(r, "shareID"), req.Password, requesterHash)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	h.metrics.DownloadIssued()
	WriteJSON(w, http.StatusOK, downloadResponse{
		DownloadURL:   grant.Download.URL,
		Filename:      grant.Filename,
		SizeBytes:     grant.SizeBytes,
		ExpiresAt:     grant.Download.ExpiresAt,
		DownloadCount: grant.DownloadCount,
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
