package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feedsync/internal/model"
)

type FollowRepository interface {
	// Replace makes followerID's following set exactly followeeIDs.
	Replace(ctx context.Context, followerID string, followeeIDs []string) error
	Exists(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]*model.Follow, error)
}

type followRepository struct {
	db *gorm.DB
}

func NewFollowRepository(db *gorm.DB) FollowRepository { return &followRepository{db: db} }

func (r *followRepository) Replace(ctx context.Context, followerID string, followeeIDs []string) error {
	db := r.db.WithContext(ctx)
	del := db.Where("follower_id = ?", followerID)
	if len(followeeIDs) > 0 {
		del = del.Where("followee_id NOT IN ?", followeeIDs)
	}
	if err := del.Delete(&model.Follow{}).Error; err != nil {
		return err
	}
	for _, id := range followeeIDs {
		f := &model.Follow{ID: uuid.New().String(), FollowerID: followerID, FolloweeID: id}
		// 幂等：已存在的边不报错
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *followRepository) ListFollowings(ctx context.Context, followerID string, offset, limit int) ([]*model.Follow, error) {
	var res []*model.Follow
	err := r.db.WithContext(ctx).Where("follower_id = ?", followerID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}
