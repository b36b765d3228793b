package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fulfillment/internal/model"
)

var (
	// ErrOrderNotFound no order with the given id
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict the order left the expected state before the update landed
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// OrderRepository order repository interface
type OrderRepository interface {
	// Create persists the order and its items in one transaction
	Create(ctx context.Context, order *model.Order) error

	// GetByID loads an order with items, their products and the owner
	GetByID(ctx context.Context, id uint64) (*model.Order, error)

	// List orders newest first; a nil userID lists every order
	List(ctx context.Context, userID *uint64, page, pageSize int) ([]*model.Order, int64, error)

	// UpdateStatus moves id from one status to another only if it is still in from
	UpdateStatus(ctx context.Context, id uint64, from, to model.OrderStatus, extra map[string]interface{}) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates an order repository
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items", "User").Create(order).Error; err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		return tx.Omit("Product").Create(&order.Items).Error
	})
}

func (r *orderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items.Product").
		Preload("User").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, userID *uint64, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Order{})
	if userID != nil {
		db = db.Where("user_id = ?", *userID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset((page - 1) * pageSize).
		Limit(pageSize).
		Order("created_at DESC").
		Preload("Items.Product").
		Find(&orders).Error

	return orders, total, err
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id uint64, from, to model.OrderStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrOrderNotFound
		}
		return ErrStatusConflict
	}
	return nil
}
