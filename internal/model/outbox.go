package model

import "time"

const (
	OutboxPending = "pending"
	OutboxDone    = "done"
)

// Outbox 变更日志：与业务行在同一事务写入，relay 按 ID（ULID，时间有序）顺序发布。
type Outbox struct {
	ID          string    `gorm:"primaryKey;type:varchar(26)"`
	Table       string    `gorm:"column:table_name;type:varchar(32);index:idx_outbox_table"`
	Op          string    `gorm:"type:varchar(8)"`
	Payload     string    `gorm:"type:text"`
	Status      string    `gorm:"type:varchar(16);index"` // pending, done
	CreatedAt   time.Time `gorm:"index"`
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }
