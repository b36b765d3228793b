package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fulfillment/internal/model"
)

// PendingJobRepository stores follow-up jobs awaiting republish
type PendingJobRepository interface {
	Create(ctx context.Context, job *model.PendingJob) error
	// ListUnpublished returns the oldest unpublished jobs under the attempt cap
	ListUnpublished(ctx context.Context, limit, maxAttempts int) ([]*model.PendingJob, error)
	MarkPublished(ctx context.Context, id uint64) error
	RecordFailure(ctx context.Context, id uint64, reason string) error
}

type pendingJobRepository struct {
	db *gorm.DB
}

// NewPendingJobRepository creates a pending job repository
func NewPendingJobRepository(db *gorm.DB) PendingJobRepository {
	return &pendingJobRepository{db: db}
}

func (r *pendingJobRepository) Create(ctx context.Context, job *model.PendingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *pendingJobRepository) ListUnpublished(ctx context.Context, limit, maxAttempts int) ([]*model.PendingJob, error) {
	var jobs []*model.PendingJob
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL AND attempts < ?", maxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *pendingJobRepository) MarkPublished(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.PendingJob{}).
		Where("id = ?", id).
		Update("published_at", &now).Error
}

func (r *pendingJobRepository) RecordFailure(ctx context.Context, id uint64, reason string) error {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	return r.db.WithContext(ctx).
		Model(&model.PendingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}
