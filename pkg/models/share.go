package models

import (
	"time"
)

// ShareState represents the lifecycle state of a share.
type ShareState string

const (
	// SharePendingUpload means the presigned PUT was issued but the object
	// has not been confirmed in storage yet.
	SharePendingUpload ShareState = "pending_upload"
	// ShareAvailable means the object exists and downloads may be served.
	ShareAvailable ShareState = "available"
	// ShareExpired means the share passed its expiry; the object may still
	// exist until the sweeper deletes it.
	ShareExpired ShareState = "expired"
	// ShareDeleted means the object has been removed from storage.
	ShareDeleted ShareState = "deleted"
)

// IsValid checks if the state is a known ShareState.
func (s ShareState) IsValid() bool {
	switch s {
	case SharePendingUpload, ShareAvailable, ShareExpired, ShareDeleted:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits moving to next.
//
// pending_upload -> available | expired | deleted
// available      -> expired | deleted
// expired        -> deleted
// deleted        -> (terminal)
func (s ShareState) CanTransition(next ShareState) bool {
	switch s {
	case SharePendingUpload:
		return next == ShareAvailable || next == ShareExpired || next == ShareDeleted
	case ShareAvailable:
		return next == ShareExpired || next == ShareDeleted
	case ShareExpired:
		return next == ShareDeleted
	}
	return false
}

// Share is the unit of cloud exchange: one object in storage plus the
// metadata needed to serve presigned upload and download URLs for it.
type Share struct {
	ID           string     `gorm:"primaryKey;size:43" json:"id"`
	OwnerUserID  *string    `gorm:"size:36;index:idx_shares_owner_created,priority:1" json:"owner_user_id,omitempty"`
	StorageKey   string     `gorm:"uniqueIndex;not null;size:500" json:"-"`
	OriginalName string     `gorm:"not null;size:500" json:"original_name"`
	SizeBytes    int64      `gorm:"not null" json:"size_bytes"`
	MimeType     string     `gorm:"not null;size:100" json:"mime_type"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	State        ShareState `gorm:"not null;size:20;index:idx_shares_expiry,priority:2" json:"state"`

	// DownloadLimit caps successful download issuances; zero means unlimited.
	DownloadLimit int `gorm:"default:0" json:"download_limit"`
	DownloadCount int `gorm:"default:0" json:"download_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index:idx_shares_expiry,priority:1;index:idx_shares_owner_created,priority:2" json:"expires_at"`
	DeletedAt *time.Time `json:"-"`

	// DeleteAttempts counts failed object deletions; the sweeper backs off
	// exponentially on this value.
	DeleteAttempts int        `gorm:"default:0" json:"-"`
	NextDeleteAt   *time.Time `json:"-"`

	Downloads []DownloadEvent `gorm:"foreignKey:ShareID" json:"-"`
}

// TableName returns the table name for Share.
func (Share) TableName() string {
	return "shares"
}

// HasPassword reports whether the share is password protected.
func (s *Share) HasPassword() bool {
	return s.PasswordHash != ""
}

// IsExpired checks the share against the given instant. Expiry is decided
// by timestamp, not state, so requests racing the sweeper still see the
// share as expired the moment ExpiresAt passes.
func (s *Share) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// LimitReached reports whether the download limit has been exhausted.
func (s *Share) LimitReached() bool {
	return s.DownloadLimit > 0 && s.DownloadCount >= s.DownloadLimit
}

// Validate checks structural invariants that hold for every persisted share.
func (s *Share) Validate() error {
	if s.ID == "" {
		return ErrInvalidShare
	}
	if s.StorageKey == "" || s.OriginalName == "" {
		return ErrInvalidShare
	}
	if s.SizeBytes < 0 {
		return ErrInvalidShare
	}
	if !s.State.IsValid() {
		return ErrInvalidState
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return ErrInvalidExpiry
	}
	return nil
}
