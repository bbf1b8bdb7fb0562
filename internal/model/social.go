package model

import "time"

type FriendRequest struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SenderID   string    `json:"sender_id" gorm:"type:varchar(36);index:idx_request_pair;not null"`
	ReceiverID string    `json:"receiver_id" gorm:"type:varchar(36);index:idx_request_pair;not null"`
	Status     string    `json:"status" gorm:"type:varchar(16);index;not null"` // pending, accepted, rejected
	CreatedAt  time.Time `json:"created_at"`
}

func (FriendRequest) TableName() string { return "friend_requests" }

// Notification 按接收者 user_id 订阅；status 只对 FRIEND_REQUEST 有意义。
type Notification struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type        string    `json:"type" gorm:"type:varchar(32);not null"`
	SenderID    string    `json:"sender_id" gorm:"type:varchar(36);not null"`
	UserID      string    `json:"user_id" gorm:"type:varchar(36);index:idx_notification_user;not null"`
	ReferenceID string    `json:"reference_id" gorm:"type:varchar(36)"`
	Read        bool      `json:"read" gorm:"not null;default:false"`
	Status      string    `json:"status,omitempty" gorm:"type:varchar(16)"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_notification_user"`
}

func (Notification) TableName() string { return "notifications" }

type Message struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SenderID   string    `json:"sender_id" gorm:"type:varchar(36);index;not null"`
	ReceiverID string    `json:"receiver_id" gorm:"type:varchar(36);index;not null"`
	Text       string    `json:"text" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// Story 过期只在读取时过滤，行不会被清理。
type Story struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);index;not null"`
	ImageURL  string    `json:"image_url" gorm:"type:text;not null"`
	Type      string    `json:"type" gorm:"type:varchar(16)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (Story) TableName() string { return "stories" }
