// Package repotest provides in-memory repositories with the same contracts as
// the gorm ones, for service and worker tests.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment/internal/model"
	"fulfillment/internal/repository"
)

// Store holds every table and hands out repositories over it
type Store struct {
	mu        sync.Mutex
	orders    map[uint64]*model.Order
	products  map[uint64]*model.Product
	users     map[uint64]*model.User
	stockLogs []model.StockLog
	pending   []*model.PendingJob
	nextID    uint64
	failNext  error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		orders:   make(map[uint64]*model.Order),
		products: make(map[uint64]*model.Product),
		users:    make(map[uint64]*model.User),
		nextID:   1,
	}
}

// FailNext makes the next write return err
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *Store) id() uint64 {
	id := s.nextID
	s.nextID++
	return id
}

// AddUser seeds a user
func (s *Store) AddUser(u model.User) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.id()
	}
	s.users[u.ID] = &u
	cp := u
	return &cp
}

// AddProduct seeds a product
func (s *Store) AddProduct(p model.Product) *model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.products[p.ID] = &p
	cp := p
	return &cp
}

// Stock returns the current stock of a product
func (s *Store) Stock(productID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		return p.Stock
	}
	return -1
}

// Status returns the current status of an order
func (s *Store) Status(orderID uint64) model.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderID].Status
}

// StockLogs returns a copy of the stock log table
func (s *Store) StockLogs() []model.StockLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StockLog(nil), s.stockLogs...)
}

// PendingJobs returns a copy of the pending job table
func (s *Store) PendingJobs() []model.PendingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PendingJob, 0, len(s.pending))
	for _, pj := range s.pending {
		out = append(out, *pj)
	}
	return out
}

func (s *Store) Orders() repository.OrderRepository { return &orderRepo{s} }
func (s *Store) Products() repository.ProductRepository { return &productRepo{s} }
func (s *Store) StockLogRepo() repository.StockLogRepository { return &stockLogRepo{s} }
func (s *Store) PendingJobRepo() repository.PendingJobRepository { return &pendingRepo{s} }

type orderRepo struct{ s *Store }

func (r *orderRepo) Create(ctx context.Context, order *model.Order) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	order.ID = s.id()
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	stored := *order
	stored.Items = make([]model.OrderItem, len(order.Items))
	for i := range order.Items {
		order.Items[i].ID = s.id()
		order.Items[i].OrderID = order.ID
		stored.Items[i] = order.Items[i]
		stored.Items[i].Product = nil
	}
	stored.User = nil
	s.orders[order.ID] = &stored
	return nil
}

func (r *orderRepo) load(o *model.Order) *model.Order {
	cp := *o
	cp.Items = make([]model.OrderItem, len(o.Items))
	for i, item := range o.Items {
		cp.Items[i] = item
		if p, ok := r.s.products[item.ProductID]; ok {
			pc := *p
			cp.Items[i].Product = &pc
		}
	}
	if u, ok := r.s.users[o.UserID]; ok {
		uc := *u
		cp.User = &uc
	}
	return &cp
}

func (r *orderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return r.load(o), nil
}

func (r *orderRepo) List(ctx context.Context, userID *uint64, page, pageSize int) ([]*model.Order, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.Order
	for _, o := range r.s.orders {
		if userID != nil && o.UserID != *userID {
			continue
		}
		all = append(all, r.load(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []*model.Order{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *orderRepo) UpdateStatus(ctx context.Context, id uint64, from, to model.OrderStatus, extra map[string]interface{}) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	o, ok := s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.Status != from {
		return repository.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	for k, v := range extra {
		str, _ := v.(string)
		switch k {
		case "preference_id":
			o.PreferenceID = &str
		case "payment_url":
			o.PaymentURL = &str
		case "payment_id":
			o.PaymentID = &str
		}
	}
	return nil
}

type productRepo struct{ s *Store }

func (r *productRepo) Create(ctx context.Context, p *model.Product) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	p.ID = s.id()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id uint64) (*model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *productRepo) GetByIDs(ctx context.Context, ids []uint64) (map[uint64]*model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uint64]*model.Product)
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *productRepo) List(ctx context.Context) ([]*model.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *productRepo) Update(ctx context.Context, p *model.Product) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.products[p.ID]; !ok {
		return repository.ErrProductNotFound
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (r *productRepo) Delete(ctx context.Context, id uint64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (r *productRepo) DecrementForOrder(ctx context.Context, jobID string, payload model.StockPayload) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return false, err
	}
	for _, l := range s.stockLogs {
		if l.OrderID == payload.OrderID {
			return false, nil
		}
	}

	after := make(map[uint64]int)
	var logs []model.StockLog
	for _, item := range payload.Items {
		p, ok := s.products[item.ProductID]
		if !ok {
			return false, fmt.Errorf("%w: product %d", repository.ErrProductNotFound, item.ProductID)
		}
		before, seen := after[p.ID]
		if seen {
			// mirrors uk_stock_logs_order_product
			return false, fmt.Errorf("Error 1062 (23000): Duplicate entry '%d-%d' for key 'uk_stock_logs_order_product'",
				payload.OrderID, p.ID)
		}
		before = p.Stock
		next := before - item.Quantity
		if next < 0 {
			return false, fmt.Errorf("%w: product %d by %d: %v", repository.ErrStockUpdate, p.ID, item.Quantity,
				errors.New("check constraint chk_products_stock violated"))
		}
		after[p.ID] = next
		logs = append(logs, model.StockLog{
			ID: s.id(), OrderID: payload.OrderID, ProductID: p.ID, OperationType: model.OperationTypeDeduct,
			Quantity: item.Quantity, BeforeStock: before, AfterStock: next, JobID: jobID, CreatedAt: time.Now(),
		})
	}
	for id, stock := range after {
		s.products[id].Stock = stock
	}
	s.stockLogs = append(s.stockLogs, logs...)
	return true, nil
}

type stockLogRepo struct{ s *Store }

func (r *stockLogRepo) ListByOrder(ctx context.Context, orderID uint64) ([]model.StockLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.StockLog
	for _, l := range r.s.stockLogs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *stockLogRepo) ListByProduct(ctx context.Context, productID uint64, limit int) ([]model.StockLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.StockLog
	for i := len(r.s.stockLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.stockLogs[i].ProductID == productID {
			out = append(out, r.s.stockLogs[i])
		}
	}
	return out, nil
}

type pendingRepo struct{ s *Store }

func (r *pendingRepo) Create(ctx context.Context, job *model.PendingJob) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	job.ID = s.id()
	job.CreatedAt = time.Now()
	cp := *job
	s.pending = append(s.pending, &cp)
	return nil
}

func (r *pendingRepo) ListUnpublished(ctx context.Context, limit, maxAttempts int) ([]*model.PendingJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PendingJob
	for _, pj := range r.s.pending {
		if pj.PublishedAt == nil && pj.Attempts < maxAttempts {
			cp := *pj
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *pendingRepo) MarkPublished(ctx context.Context, id uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, pj := range r.s.pending {
		if pj.ID == id {
			now := time.Now()
			pj.PublishedAt = &now
		}
	}
	return nil
}

func (r *pendingRepo) RecordFailure(ctx context.Context, id uint64, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, pj := range r.s.pending {
		if pj.ID == id {
			pj.Attempts++
			pj.LastError = reason
		}
	}
	return nil
}
