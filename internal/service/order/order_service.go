// Package order creates orders and applies customer and admin status changes.
package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/provider"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/reconcile"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/log"
)

var (
	// ErrForbidden the requester may not see or change the order
	ErrForbidden = errors.New("order access forbidden")
	// ErrEmptyOrder an order needs at least one line
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidQuantity line quantities must be positive
	ErrInvalidQuantity = errors.New("invalid item quantity")
	// ErrInsufficientStock a product cannot cover the requested quantity
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPreference the checkout preference was not issued; the order stays pending
	ErrPreference = errors.New("payment preference not issued")
)

// Line is a requested order line
type Line struct {
	ProductID uint64
	Quantity  int
	TripDate  *time.Time
	TripTime  *string
}

// Checkout is a created order and where the customer pays for it
type Checkout struct {
	Order      *model.Order
	PaymentURL string
}

// Service order service interface
type Service interface {
	Create(ctx context.Context, userID uint64, lines []Line) (*Checkout, error)
	Get(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error)
	List(ctx context.Context, requester statemachine.Requester, page, pageSize int) ([]*model.Order, int64, error)
	Cancel(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error)
	// UpdateStatus is the admin override; it may set any status on a
	// non-terminal order
	UpdateStatus(ctx context.Context, requester statemachine.Requester, id uint64, status int) (*model.Order, error)
}

type service struct {
	orders     repository.OrderRepository
	products   repository.ProductRepository
	provider   provider.PaymentProvider
	dispatcher *reconcile.Dispatcher
	metrics    *monitor.MetricsCollector
	taxRate    decimal.Decimal
}

// NewService creates an order service
func NewService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	paymentProvider provider.PaymentProvider,
	dispatcher *reconcile.Dispatcher,
	metrics *monitor.MetricsCollector,
	taxRate float64,
) Service {
	return &service{
		orders:     orders,
		products:   products,
		provider:   paymentProvider,
		dispatcher: dispatcher,
		metrics:    metrics,
		taxRate:    decimal.NewFromFloat(taxRate),
	}
}

func (s *service) Create(ctx context.Context, userID uint64, lines []Line) (*Checkout, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyOrder
	}

	ids := make([]uint64, 0, len(lines))
	wanted := make(map[uint64]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d quantity %d", ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		if _, seen := wanted[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		wanted[l.ProductID] += l.Quantity
	}

	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, qty := range wanted {
		p, ok := products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", repository.ErrProductNotFound, id)
		}
		if !p.HasStock(qty) {
			return nil, fmt.Errorf("%w: product %d has %d, %d requested", ErrInsufficientStock, id, p.Stock, qty)
		}
	}

	order := &model.Order{
		UserID: userID,
		Status: model.OrderStatusPending,
		Items:  make([]model.OrderItem, 0, len(ids)),
	}
	// one item per product; repeated lines add up and the first trip slot given wins
	at := make(map[uint64]int, len(ids))
	for _, l := range lines {
		if i, ok := at[l.ProductID]; ok {
			item := &order.Items[i]
			if item.TripDate == nil {
				item.TripDate = l.TripDate
			}
			if item.TripTime == nil {
				item.TripTime = l.TripTime
			}
			continue
		}
		at[l.ProductID] = len(order.Items)
		order.Items = append(order.Items, model.OrderItem{
			ProductID: l.ProductID,
			Quantity:  wanted[l.ProductID],
			Price:     products[l.ProductID].Price,
			TripDate:  l.TripDate,
			TripTime:  l.TripTime,
		})
	}
	subtotal := order.Subtotal()
	tax := subtotal.Mul(s.taxRate).Round(2)
	order.Total = subtotal.Add(tax).Round(2)

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	fields := log.Fields{"order_id": order.ID, "user_id": userID, "total": order.Total.StringFixed(2)}
	log.WithFields(fields).Info("order created")

	pref, err := s.provider.CreatePreference(ctx, s.preferenceRequest(order, products, tax))
	if err != nil {
		log.WithFields(fields).WithError(err).Error("payment preference failed, order left pending")
		return nil, fmt.Errorf("%w: order %d: %w", ErrPreference, order.ID, err)
	}

	from := order.Status
	next, err := statemachine.Transition(from, statemachine.PreferenceIssued)
	if err != nil {
		return nil, err
	}
	err = s.orders.UpdateStatus(ctx, order.ID, from, next, map[string]interface{}{
		"preference_id": pref.ID,
		"payment_url":   pref.InitPoint,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(from.String(), next.String())

	loaded, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, loaded, statemachine.Effects(from, next))

	return &Checkout{Order: loaded, PaymentURL: pref.InitPoint}, nil
}

func (s *service) preferenceRequest(order *model.Order, products map[uint64]*model.Product, tax decimal.Decimal) provider.PreferenceRequest {
	req := provider.PreferenceRequest{
		ExternalReference: strconv.FormatUint(order.ID, 10),
		Items:             make([]provider.PreferenceItem, 0, len(order.Items)+1),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, provider.PreferenceItem{
			ID:        strconv.FormatUint(item.ProductID, 10),
			Title:     products[item.ProductID].Name,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	req.Items = append(req.Items, provider.PreferenceItem{
		ID:        "taxes",
		Title:     fmt.Sprintf("Taxes (%s%%)", s.taxRate.Mul(decimal.NewFromInt(100)).StringFixed(0)),
		Quantity:  1,
		UnitPrice: tax,
	})
	return req
}

func (s *service) Get(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(requester.UserID) && !model.IsElevatedRole(requester.Role) {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *service) List(ctx context.Context, requester statemachine.Requester, page, pageSize int) ([]*model.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var owner *uint64
	if !model.IsElevatedRole(requester.Role) {
		owner = &requester.UserID
	}
	return s.orders.List(ctx, owner, page, pageSize)
}

func (s *service) Cancel(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := statemachine.AuthorizeCancel(requester, order); err != nil {
		if errors.Is(err, statemachine.ErrForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return nil, err
	}

	from := order.Status
	next, err := statemachine.Transition(from, statemachine.CancelRequested)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, order, next, statemachine.Effects(from, next), requester)
}

func (s *service) UpdateStatus(ctx context.Context, requester statemachine.Requester, id uint64, status int) (*model.Order, error) {
	if requester.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	next, err := model.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if from.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", statemachine.ErrInvalidTransition, id, from)
	}
	if next == from {
		return order, nil
	}

	effects := []statemachine.Effect{statemachine.NotifyStatusUpdate}
	if next == model.OrderStatusCompleted {
		effects = statemachine.Effects(from, next)
	}
	return s.apply(ctx, order, next, effects, requester)
}

// apply persists the new status with a compare-and-set and then enqueues effects
func (s *service) apply(ctx context.Context, order *model.Order, next model.OrderStatus, effects []statemachine.Effect, requester statemachine.Requester) (*model.Order, error) {
	from := order.Status
	if err := s.orders.UpdateStatus(ctx, order.ID, from, next, nil); err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(from.String(), next.String())

	log.WithFields(log.Fields{
		"order_id":  order.ID,
		"from":      from.String(),
		"to":        next.String(),
		"requester": requester.UserID,
		"role":      requester.Role,
	}).Info("order status changed")

	order.Status = next
	s.dispatch(ctx, order, effects)
	return order, nil
}

// dispatch runs after the commit; the caller's request already succeeded, so
// a deferred or lost follow-up is logged, not returned
func (s *service) dispatch(ctx context.Context, order *model.Order, effects []statemachine.Effect) {
	err := s.dispatcher.DispatchEffects(ctx, order, effects)
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrDeferred):
		log.WithFields(log.Fields{"order_id": order.ID, "error": err}).Warn("follow-up jobs deferred to reconciliation")
	default:
		log.WithFields(log.Fields{"order_id": order.ID, "error": err}).Error("follow-up jobs lost, manual remediation required")
	}
}
