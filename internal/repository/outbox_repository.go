package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/feedsync/internal/model"
)

type OutboxRepository interface {
	// Pending returns up to limit unpublished entries in commit order.
	Pending(ctx context.Context, limit int) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, ids []string) error
	// Purge deletes published entries processed before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) Pending(ctx context.Context, limit int) ([]*model.Outbox, error) {
	var res []*model.Outbox
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *outboxRepository) MarkDone(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": now}).Error
}

func (r *outboxRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", model.OutboxDone, cutoff).
		Delete(&model.Outbox{})
	return res.RowsAffected, res.Error
}
