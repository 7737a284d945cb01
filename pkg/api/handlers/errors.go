package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sharesync/sharesync/internal/logger"
	"github.com/sharesync/sharesync/pkg/api/auth"
	"github.com/sharesync/sharesync/pkg/models"
)

// Error codes of the public taxonomy.
const (
	CodeValidationFailed  = "validation_failed"
	CodeUnauthenticated   = "unauthenticated"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeInvalidState      = "invalid_state"
	CodeExpired           = "expired"
	CodeGone              = "gone"
	CodeOversize          = "oversize"
	CodeUnsupportedMedia  = "unsupported_media"
	CodePasswordRequired  = "password_required"
	CodePasswordIncorrect = "password_incorrect"
	CodeQuotaExceeded     = "quota_exceeded"
	CodeRateLimited       = "rate_limited"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// ErrorBody is the error payload inside the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Error("failed to encode response", "error", err)
		}
	}
}

// WriteError writes the error envelope {"error":{"code","message"}}.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// WriteDomainError maps a domain error onto the taxonomy and writes it.
// Unrecognized errors become 500 internal without leaking detail.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrShareNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrUploadNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "share not found")
	case errors.Is(err, models.ErrShareExpired):
		WriteError(w, http.StatusGone, CodeExpired, "share has expired")
	case errors.Is(err, models.ErrShareGone):
		WriteError(w, http.StatusGone, CodeGone, "share is no longer available")
	case errors.Is(err, models.ErrInvalidState):
		WriteError(w, http.StatusConflict, CodeInvalidState, "operation not allowed in the current state")
	case errors.Is(err, models.ErrOversize):
		WriteError(w, http.StatusRequestEntityTooLarge, CodeOversize, "file exceeds the maximum allowed size")
	case errors.Is(err, models.ErrUnsupportedMedia):
		WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia, "file type is not allowed")
	case errors.Is(err, models.ErrInvalidExpiry):
		WriteError(w, http.StatusBadRequest, CodeValidationFailed, "expiry is not one of the allowed durations")
	case errors.Is(err, models.ErrInvalidShare):
		WriteError(w, http.StatusBadRequest, CodeValidationFailed, "invalid share parameters")
	case errors.Is(err, models.ErrQuotaExceeded):
		WriteError(w, http.StatusForbidden, CodeQuotaExceeded, "storage quota exceeded")
	case errors.Is(err, models.ErrPasswordRequired):
		WriteError(w, http.StatusLocked, CodePasswordRequired, "this share requires a password")
	case errors.Is(err, models.ErrPasswordIncorrect):
		WriteError(w, http.StatusLocked, CodePasswordIncorrect, "incorrect password")
	case errors.Is(err, models.ErrUnauthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrIdentityRejected):
		WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
	case errors.Is(err, models.ErrForbidden):
		WriteError(w, http.StatusForbidden, CodeForbidden, "you do not own this share")
	default:
		logger.Error("internal error", "error", err)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

// decodeJSON parses the request body into v, bounding the body size.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationFailed, "malformed request body")
		return false
	}
	return true
}
