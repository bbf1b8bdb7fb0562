package model

import "time"

// Profile 用户资料；关注边以数组形式冗余在行内，follows/fans 表由仓储层同步。
type Profile struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username  string    `json:"username" gorm:"type:varchar(64);index:idx_profile_username"`
	FullName  string    `json:"full_name" gorm:"type:varchar(128)"`
	AvatarURL string    `json:"avatar_url" gorm:"type:text"`
	Bio       string    `json:"bio" gorm:"type:text"`
	Followers []string  `json:"followers" gorm:"type:text;serializer:json"`
	Following []string  `json:"following" gorm:"type:text;serializer:json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }
