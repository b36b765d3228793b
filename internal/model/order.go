package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the persisted lifecycle state of an order
type OrderStatus int8

const (
	OrderStatusPending    OrderStatus = 0
	OrderStatusProcessing OrderStatus = 1
	OrderStatusCompleted  OrderStatus = 2
	OrderStatusCancelled  OrderStatus = 3
)

// ErrUnknownStatus the value is not one of the four order statuses
var ErrUnknownStatus = errors.New("unknown order status")

// ParseOrderStatus converts a raw value, rejecting anything outside 0..3
func ParseOrderStatus(v int) (OrderStatus, error) {
	s := OrderStatus(v)
	if v < 0 || v > int(OrderStatusCancelled) {
		return 0, fmt.Errorf("%w %d", ErrUnknownStatus, v)
	}
	return s, nil
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusProcessing:
		return "PROCESSING"
	case OrderStatusCompleted:
		return "COMPLETED"
	case OrderStatusCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("OrderStatus(%d)", int8(s))
}

// Label is the customer-facing name used in notifications
func (s OrderStatus) Label() string {
	switch s {
	case OrderStatusPending:
		return "Pending"
	case OrderStatusProcessing:
		return "Processing"
	case OrderStatusCompleted:
		return "Completed"
	case OrderStatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Color is the badge color for the status in rendered emails
func (s OrderStatus) Color() string {
	switch s {
	case OrderStatusPending:
		return "#f39c12"
	case OrderStatusProcessing:
		return "#3498db"
	case OrderStatusCompleted:
		return "#27ae60"
	case OrderStatusCancelled:
		return "#e74c3c"
	}
	return "#7f8c8d"
}

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order order model
type Order struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64          `gorm:"type:bigint unsigned;not null;index" json:"user_id"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Status       OrderStatus     `gorm:"type:tinyint;not null;default:0;index" json:"status"`
	PreferenceID *string         `gorm:"type:varchar(64)" json:"preference_id,omitempty"`
	PaymentURL   *string         `gorm:"type:varchar(512)" json:"payment_url,omitempty"`
	PaymentID    *string         `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	CreatedAt    time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`

	User  *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem order line with the unit price captured at creation
type OrderItem struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint64          `gorm:"type:bigint unsigned;not null;index" json:"order_id"`
	ProductID uint64          `gorm:"type:bigint unsigned;not null;index" json:"product_id"`
	Quantity  int             `gorm:"type:int;not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	TripDate  *time.Time      `gorm:"type:date" json:"trip_date,omitempty"`
	TripTime  *string         `gorm:"type:varchar(10)" json:"trip_time,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// LineTotal unit price times quantity
func (i *OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal sums the order lines before tax
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for i := range o.Items {
		sum = sum.Add(o.Items[i].LineTotal())
	}
	return sum
}

// IsOwnedBy checks order ownership
func (o *Order) IsOwnedBy(userID uint64) bool {
	return o.UserID == userID
}
