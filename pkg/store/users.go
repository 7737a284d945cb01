package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sharesync/sharesync/pkg/models"
)

func (s *GORMStore) UpsertUser(ctx context.Context, email, displayName string) (*models.User, error) {
	var user models.User
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).First(&user).Error
		if err == nil {
			updates := map[string]any{"last_login": now}
			if displayName != "" && displayName != user.DisplayName {
				updates["display_name"] = displayName
				user.DisplayName = displayName
			}
			user.LastLogin = &now
			return tx.Model(&user).Updates(updates).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user = models.User{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			CreatedAt:   now,
			LastLogin:   &now,
		}
		if err := user.Validate(); err != nil {
			return err
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrUserNotFound)
	}
	return &user, nil
}
