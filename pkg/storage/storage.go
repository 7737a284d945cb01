// Package storage defines the narrow object-store capability the gateway
// consumes. The service never streams file bytes itself; clients talk to
// the store directly through presigned URLs.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Stat when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PresignedURL is a time-limited, operation-scoped URL plus the headers the
// client must send with it.
type PresignedURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// ObjectInfo describes an object as reported by the store.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}

// ObjectStore is the S3-like capability required by the gateway.
//
// Implementations must be safe for concurrent use. All methods honor the
// context deadline; the gateway never calls them without one.
type ObjectStore interface {
	// PresignPut returns a URL granting one PUT of exactly size bytes to key.
	PresignPut(ctx context.Context, key string, size int64, contentType string, ttl time.Duration) (*PresignedURL, error)

	// PresignGet returns a URL granting one GET of key. The filename is
	// offered to the browser via a content-disposition override.
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (*PresignedURL, error)

	// Stat reports the object's existence and size. A missing object
	// yields ErrObjectNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
