// Package product serves the catalogue through the read-through cache.
package product

import (
	"context"
	"time"

	"fulfillment/internal/cache"
	"fulfillment/internal/config"
	"fulfillment/internal/model"
	"fulfillment/internal/repository"
	"fulfillment/pkg/log"
)

// Service product service interface
type Service interface {
	List(ctx context.Context) ([]*model.Product, error)
	Get(ctx context.Context, id uint64) (*model.Product, error)
	Create(ctx context.Context, product *model.Product) error
	Update(ctx context.Context, product *model.Product) error
	Delete(ctx context.Context, id uint64) error
	StockHistory(ctx context.Context, id uint64, limit int) ([]model.StockLog, error)
}

type service struct {
	products    repository.ProductRepository
	stockLogs   repository.StockLogRepository
	cache       *cache.Cache
	productsTTL time.Duration
	productTTL  time.Duration
}

// NewService creates a product service
func NewService(products repository.ProductRepository, stockLogs repository.StockLogRepository, c *cache.Cache, cfg config.CacheConfig) Service {
	return &service{
		products:    products,
		stockLogs:   stockLogs,
		cache:       c,
		productsTTL: cfg.ProductsTTL,
		productTTL:  cfg.ProductTTL,
	}
}

func (s *service) List(ctx context.Context) ([]*model.Product, error) {
	key := cache.ProductsAll()

	var products []*model.Product
	if s.cache.Get(ctx, key, &products) {
		return products, nil
	}

	products, err := s.products.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, products, s.productsTTL)
	return products, nil
}

func (s *service) Get(ctx context.Context, id uint64) (*model.Product, error) {
	key := cache.Product(id)

	var product model.Product
	if s.cache.Get(ctx, key, &product) {
		return &product, nil
	}

	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, key, p, s.productTTL)
	return p, nil
}

func (s *service) Create(ctx context.Context, product *model.Product) error {
	if err := s.products.Create(ctx, product); err != nil {
		return err
	}
	s.invalidate(ctx, product.ID, cache.ProductsAll(), cache.ProductsPattern())
	return nil
}

func (s *service) Update(ctx context.Context, product *model.Product) error {
	if err := s.products.Update(ctx, product); err != nil {
		return err
	}
	s.invalidate(ctx, product.ID, cache.ProductsAll(), cache.Product(product.ID))
	return nil
}

func (s *service) Delete(ctx context.Context, id uint64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id, cache.ProductsAll(), cache.Product(id))
	return nil
}

func (s *service) StockHistory(ctx context.Context, id uint64, limit int) ([]model.StockLog, error) {
	if _, err := s.products.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.stockLogs.ListByProduct(ctx, id, limit)
}

// invalidate runs after the write committed, so a failure is logged and the
// stale entry lives at most one TTL
func (s *service) invalidate(ctx context.Context, id uint64, keys ...string) {
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.WithFields(log.Fields{"product_id": id, "keys": keys, "error": err}).Error("product cache invalidation failed")
	}
}
