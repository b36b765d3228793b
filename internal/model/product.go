package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product catalogue entry; Stock is only mutated through the product repository
type Product struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string          `gorm:"type:varchar(200);not null" json:"name"`
	Description *string         `gorm:"type:text" json:"description,omitempty"`
	Destination string          `gorm:"type:varchar(120);index" json:"destination"`
	Image       *string         `gorm:"type:varchar(255)" json:"image,omitempty"`
	Price       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Stock       int             `gorm:"type:int;not null;default:0;check:chk_products_stock,stock >= 0" json:"stock"`
	CreatedAt   time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// HasStock check if quantity units are available
func (p *Product) HasStock(quantity int) bool {
	return p.Stock >= quantity
}
