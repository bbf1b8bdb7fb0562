package model

import "time"

// Follow 是 profiles.following 的展开行：FollowerID 关注了 FolloweeID。
// 只由 TableStore 在 profile 写入时整体替换，不单独写。
type Follow struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	FollowerID string    `json:"follower_id" gorm:"type:varchar(36);not null;index:idx_follow_follower;uniqueIndex:idx_follow_edge"`
	FolloweeID string    `json:"followee_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_follow_edge"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Follow) TableName() string { return "follows" }

// Fan 是 profiles.followers 的展开行：FanID 是 UserID 的粉丝。
type Fan struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index:idx_fan_user;uniqueIndex:idx_fan_edge"`
	FanID     string    `json:"fan_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_fan_edge"`
	CreatedAt time.Time `json:"created_at"`
}

func (Fan) TableName() string { return "fans" }
