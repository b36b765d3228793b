package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fulfillment/internal/model"
)

var (
	// ErrProductNotFound no product with the given id
	ErrProductNotFound = errors.New("product not found")
	// ErrStockUpdate the store refused a decrement, usually the non-negative check
	ErrStockUpdate = errors.New("stock update failed")
)

// ProductRepository product repository interface. It is the only writer of
// the stock column.
type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id uint64) (*model.Product, error)
	GetByIDs(ctx context.Context, ids []uint64) (map[uint64]*model.Product, error)
	List(ctx context.Context) ([]*model.Product, error)
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id uint64) error

	// DecrementForOrder applies every decrement of payload in one transaction
	// and records a stock log per item. It reports false without touching stock
	// when the order was already applied.
	DecrementForOrder(ctx context.Context, jobID string, payload model.StockPayload) (bool, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a product repository
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepository) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) GetByIDs(ctx context.Context, ids []uint64) (map[uint64]*model.Product, error) {
	var products []*model.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint64]*model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

func (r *productRepository) List(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).Order("id ASC").Find(&products).Error
	return products, err
}

func (r *productRepository) Update(ctx context.Context, product *model.Product) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"name":        product.Name,
			"description": product.Description,
			"destination": product.Destination,
			"image":       product.Image,
			"price":       product.Price,
			"stock":       product.Stock,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) Delete(ctx context.Context, id uint64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Product{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *productRepository) DecrementForOrder(ctx context.Context, jobID string, payload model.StockPayload) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.StockLog{}).Where("order_id = ?", payload.OrderID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		for _, item := range payload.Items {
			var product model.Product
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", item.ProductID).
				First(&product).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: product %d", ErrProductNotFound, item.ProductID)
				}
				return err
			}

			err = tx.Model(&model.Product{}).
				Where("id = ?", item.ProductID).
				Updates(map[string]interface{}{
					"stock": gorm.Expr("stock - ?", item.Quantity),
				}).Error
			if err != nil {
				return fmt.Errorf("%w: product %d by %d: %v", ErrStockUpdate, item.ProductID, item.Quantity, err)
			}

			entry := &model.StockLog{
				OrderID:       payload.OrderID,
				ProductID:     item.ProductID,
				OperationType: model.OperationTypeDeduct,
				Quantity:      item.Quantity,
				BeforeStock:   product.Stock,
				AfterStock:    product.Stock - item.Quantity,
				JobID:         jobID,
			}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
