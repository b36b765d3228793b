package model

import (
	"time"
)

// Roles carried in access tokens
const (
	RoleUser         = "USER"
	RoleAdmin        = "ADMIN"
	RoleSalesManager = "SALES_MANAGER"
)

// User is read by the pipeline for ownership checks and notification recipients.
// Accounts are managed elsewhere.
type User struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Email     string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"email"`
	Role      string    `gorm:"type:varchar(20);not null;default:USER" json:"role"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// IsElevatedRole reports whether role may act on orders it does not own
func IsElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleSalesManager
}
