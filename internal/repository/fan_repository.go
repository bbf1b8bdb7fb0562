package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

type FanRepository interface {
	// Replace makes userID's fan set exactly fanIDs.
	Replace(ctx context.Context, userID string, fanIDs []string) error
	ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error)
}

type fanRepository struct{ db *gorm.DB }

func NewFanRepository(db *gorm.DB) FanRepository { return &fanRepository{db: db} }

func (r *fanRepository) Replace(ctx context.Context, userID string, fanIDs []string) error {
	db := r.db.WithContext(ctx)
	del := db.Where("user_id = ?", userID)
	if len(fanIDs) > 0 {
		del = del.Where("fan_id NOT IN ?", fanIDs)
	}
	if err := del.Delete(&model.Fan{}).Error; err != nil {
		return err
	}
	for _, id := range fanIDs {
		f := &model.Fan{ID: uuid.New().String(), UserID: userID, FanID: id}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *fanRepository) ListFans(ctx context.Context, userID string, offset, limit int) ([]*model.Fan, error) {
	var res []*model.Fan
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}
