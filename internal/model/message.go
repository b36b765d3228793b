package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job types carried in the queue envelope
const (
	JobPaymentEvent      = "payment"
	JobOrderCreated      = "order-created"
	JobOrderConfirmed    = "order-confirmed"
	JobOrderStatusUpdate = "order-status-update"
	JobStockDecrement    = "stock-decrement"
)

// PaymentEvent is the normalized provider webhook; it only identifies the
// payment, the outcome is always re-read from the provider.
type PaymentEvent struct {
	PaymentID  string    `json:"payment_id"`
	Action     string    `json:"action,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NotificationPayload recipient plus an order snapshot
type NotificationPayload struct {
	Email string        `json:"email"`
	Name  string        `json:"name"`
	Order OrderSnapshot `json:"order"`
}

// OrderSnapshot is the order as it was when the notification was enqueued
type OrderSnapshot struct {
	ID        uint64          `json:"id"`
	Status    OrderStatus     `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	Items     []ItemSnapshot  `json:"items"`
}

// ItemSnapshot a rendered order line
type ItemSnapshot struct {
	ProductID   uint64          `json:"product_id"`
	Name        string          `json:"name"`
	Destination string          `json:"destination,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TripDate    *time.Time      `json:"trip_date,omitempty"`
	TripTime    *string         `json:"trip_time,omitempty"`
}

// StockPayload decrements for one completed order
type StockPayload struct {
	OrderID uint64      `json:"order_id"`
	Items   []StockItem `json:"items"`
}

// StockItem a single product decrement
type StockItem struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// NewOrderSnapshot copies what notifications need from a loaded order
func NewOrderSnapshot(o *Order) OrderSnapshot {
	snap := OrderSnapshot{
		ID:        o.ID,
		Status:    o.Status,
		Total:     o.Total,
		CreatedAt: o.CreatedAt,
		Items:     make([]ItemSnapshot, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		line := ItemSnapshot{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			TripDate:  item.TripDate,
			TripTime:  item.TripTime,
		}
		if item.Product != nil {
			line.Name = item.Product.Name
			line.Destination = item.Product.Destination
		}
		snap.Items = append(snap.Items, line)
	}
	return snap
}

// NewStockPayload lists the decrements for o, one per product
func NewStockPayload(o *Order) StockPayload {
	payload := StockPayload{OrderID: o.ID, Items: make([]StockItem, 0, len(o.Items))}
	for _, item := range o.Items {
		payload.Items = append(payload.Items, StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return payload.Merged()
}

// Merged sums quantities per product, keeping first-seen order. A stock log
// row is unique per order and product, so a batch must not repeat a product.
func (p StockPayload) Merged() StockPayload {
	index := make(map[uint64]int, len(p.Items))
	items := make([]StockItem, 0, len(p.Items))
	for _, item := range p.Items {
		if i, ok := index[item.ProductID]; ok {
			items[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(items)
		items = append(items, item)
	}
	return StockPayload{OrderID: p.OrderID, Items: items}
}

// Subtotal sums snapshot lines before tax
func (s OrderSnapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range s.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}
