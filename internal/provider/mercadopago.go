package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	appconfig "fulfillment/internal/config"
	"fulfillment/pkg/breaker"
	"fulfillment/pkg/log"
)

// MercadoPago adapts the MercadoPago SDK to PaymentProvider. Every call goes
// through the circuit breaker so an outage fails fast instead of stalling workers.
type MercadoPago struct {
	payments    payment.Client
	preferences preference.Client
	breaker     *breaker.CircuitBreaker
	cfg         appconfig.PaymentConfig
	webhookURL  string
}

// NewMercadoPago creates the adapter from configuration
func NewMercadoPago(cfg *appconfig.Config, cb *breaker.CircuitBreaker) (*MercadoPago, error) {
	mpCfg, err := config.New(cfg.Payment.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}

	return &MercadoPago{
		payments:    payment.NewClient(mpCfg),
		preferences: preference.NewClient(mpCfg),
		breaker:     cb,
		cfg:         cfg.Payment,
		webhookURL:  cfg.WebhookURL(),
	}, nil
}

func (m *MercadoPago) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	id, err := strconv.Atoi(paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentID, paymentID)
	}

	var resp *payment.Response
	err = m.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.payments.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get payment %s: %v", ErrProviderQuery, paymentID, err)
	}

	return &Payment{
		ID:                strconv.Itoa(resp.ID),
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (m *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	items := make([]preference.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, preference.ItemRequest{
			ID:         item.ID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.InexactFloat64(),
			CurrencyID: m.cfg.CurrencyID,
		})
	}

	request := preference.Request{
		Items: items,
		BackURLs: &preference.BackURLsRequest{
			Success: m.cfg.SuccessURL,
			Pending: m.cfg.PendingURL,
			Failure: m.cfg.FailureURL,
		},
		NotificationURL:   m.webhookURL,
		ExternalReference: req.ExternalReference,
	}

	var resp *preference.Response
	err := m.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = m.preferences.Create(ctx, request)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create preference for %s: %v", ErrProviderQuery, req.ExternalReference, err)
	}

	log.WithFields(log.Fields{
		"external_reference": req.ExternalReference,
		"preference_id":      resp.ID,
	}).Info("payment preference created")

	return &Preference{ID: resp.ID, InitPoint: resp.InitPoint}, nil
}

func (m *MercadoPago) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}
	if m.breaker == nil {
		return fn(ctx)
	}
	return m.breaker.Execute(ctx, fn)
}
