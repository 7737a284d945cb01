package models

import "time"

// DownloadEvent is an append-only record of a successful download issuance.
//
// The requester is stored as a salted hash of the client IP, never the raw
// address. Retention is handled by the sweeper independently of share
// retention.
type DownloadEvent struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ShareID       string    `gorm:"not null;size:43;index" json:"share_id"`
	At            time.Time `gorm:"autoCreateTime;index" json:"at"`
	RequesterHash string    `gorm:"size:64" json:"-"`
}

// TableName returns the table name for DownloadEvent.
func (DownloadEvent) TableName() string {
	return "download_events"
}
