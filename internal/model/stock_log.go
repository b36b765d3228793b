package model

import (
	"time"
)

// StockLog records one applied decrement. The (order_id, product_id) key makes a
// redelivered stock job for the same order detectable.
type StockLog struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID       uint64    `gorm:"type:bigint unsigned;not null;uniqueIndex:uk_stock_logs_order_product" json:"order_id"`
	ProductID     uint64    `gorm:"type:bigint unsigned;not null;uniqueIndex:uk_stock_logs_order_product;index" json:"product_id"`
	OperationType int8      `gorm:"type:tinyint;not null" json:"operation_type"`
	Quantity      int       `gorm:"type:int;not null" json:"quantity"`
	BeforeStock   int       `gorm:"type:int;not null" json:"before_stock"`
	AfterStock    int       `gorm:"type:int;not null" json:"after_stock"`
	JobID         string    `gorm:"type:varchar(36);index" json:"job_id"`
	CreatedAt     time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (StockLog) TableName() string {
	return "stock_logs"
}

const (
	OperationTypeDeduct = 1
)
