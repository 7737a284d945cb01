package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sharesync/sharesync/pkg/models"
)

func (s *GORMStore) ClaimExpiredBatch(ctx context.Context, limit int, cutoff, now time.Time) ([]*models.Share, error) {
	var shares []*models.Share

	// The select and the expired transition share one transaction: the
	// row locks taken by FOR UPDATE only partition concurrent sweepers
	// if the state change commits before they are released.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("state IN ?", []models.ShareState{models.SharePendingUpload, models.ShareAvailable, models.ShareExpired}).
			Where("expires_at <= ?", cutoff).
			Where("next_delete_at IS NULL OR next_delete_at <= ?", now).
			Order("expires_at asc").
			Limit(limit)

		if s.supportsSkipLocked() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		if err := q.Find(&shares).Error; err != nil {
			return err
		}

		var claim []string
		for _, share := range shares {
			if share.State != models.ShareExpired {
				claim = append(claim, share.ID)
			}
		}
		if len(claim) == 0 {
			return nil
		}
		return tx.Model(&models.Share{}).
			Where("id IN ? AND state IN ?", claim,
				[]models.ShareState{models.SharePendingUpload, models.ShareAvailable}).
			Update("state", models.ShareExpired).Error
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *GORMStore) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("id = ? AND state = ?", id, models.ShareExpired).
		Updates(map[string]any{
			"state":          models.ShareDeleted,
			"deleted_at":     at,
			"next_delete_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrInvalidState
	}
	return nil
}

func (s *GORMStore) RecordDeleteFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Share{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delete_attempts": gorm.Expr("delete_attempts + 1"),
			"next_delete_at":  nextAttempt,
		}).Error
}

func (s *GORMStore) HardDeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state = ? AND deleted_at IS NOT NULL AND deleted_at < ?", models.ShareDeleted, cutoff).
		Delete(&models.Share{})
	return res.RowsAffected, res.Error
}

func (s *GORMStore) PruneDownloadEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("at < ?", cutoff).
		Delete(&models.DownloadEvent{})
	return res.RowsAffected, res.Error
}
