package model

import "time"

// Post 帖子；转发帖 RepostOf 指向最初的原帖。
type Post struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID     string    `json:"user_id" gorm:"type:varchar(36);index:idx_post_author;not null"`
	Content    string    `json:"content" gorm:"type:text"`
	ImageURL   string    `json:"image_url" gorm:"type:text"`
	Type       string    `json:"type" gorm:"type:varchar(16)"`
	RepostOf   string    `json:"repost_of,omitempty" gorm:"type:varchar(36);index"`
	RepostedBy string    `json:"reposted_by,omitempty" gorm:"type:varchar(64)"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Post) TableName() string { return "posts" }

type Comment struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `json:"post_id" gorm:"type:varchar(36);index:idx_comment_post;not null"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null"`
	Content   string    `json:"content" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_comment_post"`
}

func (Comment) TableName() string { return "comments" }

// Like 点赞；(post_id, user_id) 唯一，避免重复点赞
type Like struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `json:"post_id" gorm:"type:varchar(36);not null;index:idx_like_pair,unique"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index:idx_like_pair,unique"`
	CreatedAt time.Time `json:"created_at"`
}

func (Like) TableName() string { return "likes" }
