// Package provider is the boundary to the external payment provider.
package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrProviderQuery the provider could not be reached or answered with an error
	ErrProviderQuery = errors.New("payment provider query failed")
	// ErrInvalidPaymentID the payment id is not one the provider can resolve
	ErrInvalidPaymentID = errors.New("invalid payment id")
)

// Provider payment statuses the pipeline reacts to. Anything else is ignored.
const (
	StatusApproved  = "approved"
	StatusPending   = "pending"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Payment is the authoritative payment record
type Payment struct {
	ID                string
	Status            string
	ExternalReference string
}

// PreferenceItem is one checkout line
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PreferenceRequest asks the provider for a checkout link for an order
type PreferenceRequest struct {
	ExternalReference string
	Items             []PreferenceItem
}

// Preference is the provider's checkout session
type Preference struct {
	ID        string
	InitPoint string
}

// PaymentProvider queries payments and issues checkout preferences
type PaymentProvider interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}
