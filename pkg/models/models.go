// Package models defines the persistent data model for ShareSync: users,
// shares and download events, plus the share state machine and the domain
// error set shared across components.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&User{},
		&Share{},
		&DownloadEvent{},
	}
}
