package model

import (
	"time"
)

// PendingJob is a follow-up job that could not be enqueued after its
// transition committed. The reconciliation sweep republishes it.
type PendingJob struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID   string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"message_id"`
	OrderID     uint64     `gorm:"type:bigint unsigned;not null;index" json:"order_id"`
	Exchange    string     `gorm:"type:varchar(64);not null" json:"exchange"`
	RoutingKey  string     `gorm:"type:varchar(64);not null" json:"routing_key"`
	Body        []byte     `gorm:"type:blob;not null" json:"-"`
	Attempts    int        `gorm:"type:int;not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:varchar(512)" json:"last_error"`
	PublishedAt *time.Time `gorm:"type:timestamp;index" json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PendingJob) TableName() string {
	return "pending_jobs"
}
