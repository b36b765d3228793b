package repository

import (
	"context"

	"gorm.io/gorm"

	"fulfillment/internal/model"
)

// StockLogRepository reads the decrement audit trail
type StockLogRepository interface {
	// ListByOrder returns the decrements applied for an order
	ListByOrder(ctx context.Context, orderID uint64) ([]model.StockLog, error)

	// ListByProduct returns recent decrements of a product
	ListByProduct(ctx context.Context, productID uint64, limit int) ([]model.StockLog, error)
}

type stockLogRepository struct {
	db *gorm.DB
}

// NewStockLogRepository creates a stock log repository
func NewStockLogRepository(db *gorm.DB) StockLogRepository {
	return &stockLogRepository{db: db}
}

func (r *stockLogRepository) ListByOrder(ctx context.Context, orderID uint64) ([]model.StockLog, error) {
	var logs []model.StockLog
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

func (r *stockLogRepository) ListByProduct(ctx context.Context, productID uint64, limit int) ([]model.StockLog, error) {
	var logs []model.StockLog
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
