package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sharesync/sharesync/pkg/models"
)

func (s *GORMStore) CreateSharePending(ctx context.Context, share *models.Share) error {
	share.State = models.SharePendingUpload
	if share.CreatedAt.IsZero() {
		share.CreatedAt = time.Now()
	}
	if err := share.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(share).Error; err != nil {
		if isUniqueConstraintError(err) {
			// A share id collision means the generator is broken; surface
			// it loudly instead of retrying.
			return models.ErrDuplicateShare
		}
		return err
	}
	return nil
}

func (s *GORMStore) GetShare(ctx context.Context, id string) (*models.Share, error) {
	var share models.Share
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&share).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrShareNotFound)
	}
	return &share, nil
}

func (s *GORMStore) ListSharesByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*models.Share, error) {
	q := s.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at desc")
	if !includeInactive {
		q = q.Where("state IN ?", []models.ShareState{models.SharePendingUpload, models.ShareAvailable})
	}

	var shares []*models.Share
	if err := q.Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *GORMStore) MarkShareAvailable(ctx context.Context, id string, actualSize int64) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&share).Error; err != nil {
			return convertNotFoundError(err, models.ErrShareNotFound)
		}

		// Finalize is idempotent: a second call after success is a no-op.
		if share.State == models.ShareAvailable {
			return nil
		}
		if share.State != models.SharePendingUpload {
			return models.ErrInvalidState
		}

		res := tx.Model(&models.Share{}).
			Where("id = ? AND state = ?", id, models.SharePendingUpload).
			Updates(map[string]any{
				"state":      models.ShareAvailable,
				"size_bytes": actualSize,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrInvalidState
		}
		share.State = models.ShareAvailable
		share.SizeBytes = actualSize
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func (s *GORMStore) RegisterDownload(ctx context.Context, id string, now time.Time, requesterHash string) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&share).Error; err != nil {
			return convertNotFoundError(err, models.ErrShareNotFound)
		}

		// Expiry is decided by timestamp so the window between ExpiresAt
		// and the next sweep still rejects with expired, not gone.
		if share.IsExpired(now) {
			return models.ErrShareExpired
		}
		if share.State != models.ShareAvailable || share.LimitReached() {
			return models.ErrShareGone
		}

		// Conditional increment closes the race against a concurrent
		// sweeper transition or a competing download on the last slot.
		res := tx.Model(&models.Share{}).
			Where("id = ? AND state = ? AND expires_at > ?", id, models.ShareAvailable, now).
			Where("download_limit = 0 OR download_count < download_limit").
			Update("download_count", gorm.Expr("download_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrShareGone
		}
		share.DownloadCount++

		event := models.DownloadEvent{
			ShareID:       id,
			At:            now,
			RequesterHash: requesterHash,
		}
		return tx.Create(&event).Error
	})
	if err != nil {
		return nil, err
	}
	return &share, nil
}

func (s *GORMStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("id = ?", id).
		Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrShareNotFound
	}
	return nil
}

func (s *GORMStore) TransitionState(ctx context.Context, id string, next models.ShareState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var share models.Share
		if err := tx.Where("id = ?", id).First(&share).Error; err != nil {
			return convertNotFoundError(err, models.ErrShareNotFound)
		}

		if !share.State.CanTransition(next) {
			return models.ErrInvalidState
		}

		updates := map[string]any{"state": next}
		if next == models.ShareDeleted {
			updates["deleted_at"] = time.Now()
		}

		res := tx.Model(&models.Share{}).
			Where("id = ? AND state = ?", id, share.State).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to a concurrent transition.
			return models.ErrInvalidState
		}
		return nil
	})
}

func (s *GORMStore) CountInFlightUploads(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("owner_user_id = ? AND state = ?", ownerID, models.SharePendingUpload).
		Count(&count).Error
	return count, err
}

func (s *GORMStore) SumActiveBytes(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("owner_user_id = ? AND state IN ?", ownerID,
			[]models.ShareState{models.SharePendingUpload, models.ShareAvailable}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	return total, err
}

func (s *GORMStore) Stats(ctx context.Context) (*Totals, error) {
	var t Totals
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.User{}).Count(&t.Users).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Share{}).Count(&t.Shares).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.DownloadEvent{}).Count(&t.Downloads).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
