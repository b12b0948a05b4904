package broadcast

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/BeatsChainApp/moments-sub000/internal/models"
)

// Store is the persistence surface of the engine. Every state transition
// that matters for idempotency is a conditional single-statement update:
// the caller learns from the claimed return value whether it won the
// transition or lost it to a concurrent run.
type Store interface {
	GetMoment(ctx context.Context, id uint) (*models.Moment, error)
	// SetMomentSlug persists a slug only if the moment has none yet.
	// Returns false when another writer got there first.
	SetMomentSlug(ctx context.Context, id uint, slug string) (bool, error)
	MarkMomentBroadcasted(ctx context.Context, id uint, at time.Time) error
	MarkMomentFailed(ctx context.Context, id uint) error

	// GetAuthority returns (nil, nil) when the creator has no profile.
	GetAuthority(ctx context.Context, creatorID string) (*models.AuthorityProfile, error)
	GetSponsor(ctx context.Context, id uint) (*models.Sponsor, error)

	// ListAudience returns up to limit opted-in subscriber phone numbers
	// matching the region (every opted-in subscriber when region is the
	// national value), in stable id order, plus the pre-cap match count.
	ListAudience(ctx context.Context, region string, limit int) ([]string, int64, error)

	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	GetBroadcast(ctx context.Context, id uint) (*models.Broadcast, error)
	// HasActiveBroadcast reports whether the moment already has a
	// broadcast in processing or completed state.
	HasActiveBroadcast(ctx context.Context, momentID uint) (bool, error)

	// StartBroadcast claims pending -> processing, recording recipient
	// count, batch total and start time in the same statement. The claim
	// is moment-level: it also loses when any other broadcast for the
	// same moment already holds an active status (enforced by the
	// partial unique index on broadcasts.moment_id).
	StartBroadcast(ctx context.Context, id uint, recipients, batches int) (bool, error)
	// CompleteEmptyBroadcast claims pending -> completed for a broadcast
	// whose resolved audience was empty. Subject to the same
	// moment-level claim as StartBroadcast.
	CompleteEmptyBroadcast(ctx context.Context, id uint) (bool, error)
	// FailBroadcast claims pending -> failed with a reason.
	FailBroadcast(ctx context.Context, id uint, reason string) (bool, error)
	// CompleteBroadcast claims processing -> completed once every batch
	// has reported.
	CompleteBroadcast(ctx context.Context, id uint) (bool, error)

	CreateBatches(ctx context.Context, batches []models.BroadcastBatch) error
	// OpenBatches returns the broadcast's batches not yet completed, in
	// ordinal order.
	OpenBatches(ctx context.Context, broadcastID uint) ([]models.BroadcastBatch, error)
	// ClaimBatch moves a batch from the given status to processing.
	ClaimBatch(ctx context.Context, id uint, from string) (bool, error)
	// CompleteBatch finalizes one batch and folds its counts into the
	// parent broadcast with atomic increments, all-or-nothing: on error
	// the batch stays open.
	CompleteBatch(ctx context.Context, batchID, broadcastID uint, success, failure int) error

	// StaleBroadcasts returns non-terminal broadcasts created before the
	// cutoff, oldest first.
	StaleBroadcasts(ctx context.Context, cutoff time.Time) ([]models.Broadcast, error)
}

// GormStore implements Store on a gorm Postgres connection.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetMoment(ctx context.Context, id uint) (*models.Moment, error) {
	var m models.Moment
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *GormStore) SetMomentSlug(ctx context.Context, id uint, slug string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Moment{}).
		Where("id = ? AND (slug IS NULL OR slug = '')", id).
		Update("slug", slug)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkMomentBroadcasted(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Moment{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.MomentStatusBroadcasted,
			"broadcasted_at": at,
		}).Error
}

func (s *GormStore) MarkMomentFailed(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Moment{}).Where("id = ?", id).
		Update("status", models.MomentStatusFailed).Error
}

func (s *GormStore) GetAuthority(ctx context.Context, creatorID string) (*models.AuthorityProfile, error) {
	if creatorID == "" {
		return nil, nil
	}
	var p models.AuthorityProfile
	err := s.db.WithContext(ctx).Where("creator_id = ?", creatorID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) GetSponsor(ctx context.Context, id uint) (*models.Sponsor, error) {
	var sp models.Sponsor
	if err := s.db.WithContext(ctx).First(&sp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sp, nil
}

func (s *GormStore) ListAudience(ctx context.Context, region string, limit int) ([]string, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Subscriber{}).Where("opted_in = ?", true)
	if region != models.RegionNational {
		q = q.Where("? = ANY(regions)", region)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var phones []string
	if err := q.Order("id").Limit(limit).Pluck("phone_number", &phones).Error; err != nil {
		return nil, 0, err
	}
	return phones, total, nil
}

func (s *GormStore) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *GormStore) GetBroadcast(ctx context.Context, id uint) (*models.Broadcast, error) {
	var b models.Broadcast
	if err := s.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *GormStore) HasActiveBroadcast(ctx context.Context, momentID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("moment_id = ? AND status IN ?", momentID,
			[]string{models.BroadcastStatusProcessing, models.BroadcastStatusCompleted}).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) StartBroadcast(ctx context.Context, id uint, recipients, batches int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, models.BroadcastStatusPending).
		Updates(map[string]interface{}{
			"status":          models.BroadcastStatusProcessing,
			"recipient_count": recipients,
			"batches_total":   batches,
			"started_at":      time.Now(),
		})
	if res.Error != nil {
		// Another broadcast for the same moment beat us into an active
		// status; the unique active-moment index rejected the claim.
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CompleteEmptyBroadcast(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, models.BroadcastStatusPending).
		Updates(map[string]interface{}{
			"status":       models.BroadcastStatusCompleted,
			"started_at":   now,
			"completed_at": now,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) FailBroadcast(ctx context.Context, id uint, reason string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, models.BroadcastStatusPending).
		Updates(map[string]interface{}{
			"status":        models.BroadcastStatusFailed,
			"error_message": reason,
			"completed_at":  time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CompleteBroadcast(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Broadcast{}).
		Where("id = ? AND status = ? AND batches_completed = batches_total", id, models.BroadcastStatusProcessing).
		Updates(map[string]interface{}{
			"status":       models.BroadcastStatusCompleted,
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CreateBatches(ctx context.Context, batches []models.BroadcastBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&batches).Error
}

func (s *GormStore) OpenBatches(ctx context.Context, broadcastID uint) ([]models.BroadcastBatch, error) {
	var batches []models.BroadcastBatch
	err := s.db.WithContext(ctx).
		Where("broadcast_id = ? AND status <> ?", broadcastID, models.BatchStatusCompleted).
		Order("number").
		Find(&batches).Error
	return batches, err
}

func (s *GormStore) ClaimBatch(ctx context.Context, id uint, from string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.BroadcastBatch{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", models.BatchStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CompleteBatch(ctx context.Context, batchID, broadcastID uint, success, failure int) error {
	// One transaction: the batch completion and the counter fold commit
	// together, so a failed fold rolls the batch back to open and a
	// later delivery pass can still converge. The batch completion is
	// the dedupe point: a resumed run that finds the batch completed
	// never re-sends, so the counters are folded in at most once per
	// batch.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.BroadcastBatch{}).
			Where("id = ?", batchID).
			Updates(map[string]interface{}{
				"status":        models.BatchStatusCompleted,
				"success_count": success,
				"failure_count": failure,
			}).Error
		if err != nil {
			return err
		}

		return tx.Model(&models.Broadcast{}).
			Where("id = ?", broadcastID).
			Updates(map[string]interface{}{
				"success_count":     gorm.Expr("success_count + ?", success),
				"failure_count":     gorm.Expr("failure_count + ?", failure),
				"batches_completed": gorm.Expr("batches_completed + 1"),
			}).Error
	})
}

func (s *GormStore) StaleBroadcasts(ctx context.Context, cutoff time.Time) ([]models.Broadcast, error) {
	var broadcasts []models.Broadcast
	err := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{models.BroadcastStatusPending, models.BroadcastStatusProcessing}, cutoff).
		Order("created_at").
		Find(&broadcasts).Error
	return broadcasts, err
}
