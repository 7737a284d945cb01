package models

import "errors"

// Common errors for share and user operations. The API layer maps these to
// the public error codes and HTTP statuses.
var (
	// User errors
	ErrUserNotFound = errors.New("user not found")

	// Share errors
	ErrShareNotFound  = errors.New("share not found")
	ErrDuplicateShare = errors.New("share id already exists")
	ErrInvalidShare   = errors.New("share fails validation")
	ErrInvalidState   = errors.New("invalid share state transition")
	ErrShareExpired   = errors.New("share has expired")
	ErrShareGone      = errors.New("share is no longer available")

	// Upload/download policy errors
	ErrInvalidExpiry     = errors.New("expiry duration not allowed")
	ErrOversize          = errors.New("object exceeds maximum size")
	ErrUnsupportedMedia  = errors.New("media type not allowed")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrUploadNotFound    = errors.New("uploaded object not found in storage")
	ErrPasswordRequired  = errors.New("password required")
	ErrPasswordIncorrect = errors.New("password incorrect")

	// Access errors
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("operation not permitted")
)
