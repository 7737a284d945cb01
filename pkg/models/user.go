package models

import (
	"fmt"
	"time"
)

// User represents a principal resolved from the external identity provider.
//
// Users are upserted on first successful sign-in and never deleted
// implicitly. The core trusts the identity provider's verdict; it stores
// only what it needs to attribute shares and enforce quotas.
type User struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Email       string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	DisplayName string     `gorm:"size:255" json:"display_name,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`

	Shares []Share `gorm:"foreignKey:OwnerUserID" json:"-"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// GetDisplayName returns the display name, or the email if none is set.
func (u *User) GetDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}
