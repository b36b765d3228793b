// Package inventory applies stock decrements for completed orders.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"fulfillment/internal/cache"
	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/repository"
	"fulfillment/pkg/log"
)

// ErrInventoryUpdate the batch was rolled back and needs manual reconciliation
var ErrInventoryUpdate = errors.New("inventory update failed")

// ErrEmptyBatch a stock job without items
var ErrEmptyBatch = errors.New("stock job has no items")

// Service inventory service interface
type Service interface {
	// Apply decrements every item of payload in one transaction. A batch
	// already applied for the order reports false and changes nothing.
	Apply(ctx context.Context, jobID string, payload model.StockPayload) (bool, error)
}

type service struct {
	products repository.ProductRepository
	cache    *cache.Cache
	metrics  *monitor.MetricsCollector
}

// NewService creates an inventory service. Cached product entries touched by
// a decrement are invalidated when c is set.
func NewService(products repository.ProductRepository, c *cache.Cache, metrics *monitor.MetricsCollector) Service {
	return &service{products: products, cache: c, metrics: metrics}
}

func (s *service) Apply(ctx context.Context, jobID string, payload model.StockPayload) (bool, error) {
	if len(payload.Items) == 0 {
		s.metrics.RecordStockBatch("empty")
		return false, fmt.Errorf("%w: order %d", ErrEmptyBatch, payload.OrderID)
	}
	payload = payload.Merged()

	applied, err := s.products.DecrementForOrder(ctx, jobID, payload)
	if err != nil {
		s.metrics.RecordStockBatch("failed")
		log.WithFields(log.Fields{
			"job_id":   jobID,
			"order_id": payload.OrderID,
			"items":    payload.Items,
			"error":    err,
		}).Error("stock decrement rolled back, manual reconciliation required")
		return false, fmt.Errorf("%w: order %d: %w", ErrInventoryUpdate, payload.OrderID, err)
	}

	if !applied {
		s.metrics.RecordStockBatch("duplicate")
		log.WithFields(log.Fields{"job_id": jobID, "order_id": payload.OrderID}).Info("stock already decremented for order, skipping")
		return false, nil
	}

	s.invalidate(ctx, payload)
	s.metrics.RecordStockBatch("applied")
	log.WithFields(log.Fields{"job_id": jobID, "order_id": payload.OrderID, "items": len(payload.Items)}).Info("stock decremented")
	return true, nil
}

func (s *service) invalidate(ctx context.Context, payload model.StockPayload) {
	if s.cache == nil {
		return
	}
	keys := []string{cache.ProductsAll()}
	for _, item := range payload.Items {
		keys = append(keys, cache.Product(item.ProductID))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		log.WithFields(log.Fields{"order_id": payload.OrderID, "keys": keys, "error": err}).Error("product cache invalidation failed")
	}
}
