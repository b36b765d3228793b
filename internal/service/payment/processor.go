// Package payment turns provider payment notifications into order transitions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/provider"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/reconcile"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/log"
)

// ErrOrderUnknown the payment references no order we hold. Retrying cannot help.
var ErrOrderUnknown = errors.New("payment references unknown order")

// Result describes what a payment notification did
type Result string

const (
	ResultApplied  Result = "applied"  // transition persisted and follow-ups enqueued
	ResultNoop     Result = "noop"     // replay, terminal order or lost race
	ResultIgnored  Result = "ignored"  // provider status without lifecycle meaning
	ResultRepeated Result = "repeated" // pending reported again for a pending order
)

// Outcome is the result of processing one payment notification
type Outcome struct {
	Result  Result
	OrderID uint64
	From    model.OrderStatus
	To      model.OrderStatus
}

// Processor applies a payment notification. The worker and the webhook
// fallback share it so both paths behave identically.
type Processor interface {
	Process(ctx context.Context, paymentID string) (*Outcome, error)
}

type processor struct {
	provider   provider.PaymentProvider
	orders     repository.OrderRepository
	dispatcher *reconcile.Dispatcher
	metrics    *monitor.MetricsCollector
}

// NewProcessor creates a payment processor
func NewProcessor(
	paymentProvider provider.PaymentProvider,
	orders repository.OrderRepository,
	dispatcher *reconcile.Dispatcher,
	metrics *monitor.MetricsCollector,
) Processor {
	return &processor{
		provider:   paymentProvider,
		orders:     orders,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

func (p *processor) Process(ctx context.Context, paymentID string) (*Outcome, error) {
	// the notification body is never trusted for the status; ask the provider
	pay, err := p.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	fields := log.Fields{
		"payment_id":         paymentID,
		"payment_status":     pay.Status,
		"external_reference": pay.ExternalReference,
	}

	trigger, ok := statemachine.TriggerForPaymentStatus(pay.Status)
	if !ok {
		log.WithFields(fields).Info("payment status has no order transition, ignoring")
		return &Outcome{Result: ResultIgnored}, nil
	}

	orderID, err := strconv.ParseUint(pay.ExternalReference, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: external reference %q", ErrOrderUnknown, pay.ExternalReference)
	}

	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: order %d", ErrOrderUnknown, orderID)
		}
		return nil, err
	}

	from := order.Status
	fields["order_id"] = orderID
	fields["from"] = from.String()

	next, err := statemachine.Transition(from, trigger)
	if err != nil {
		// a replay against a terminal order lands here
		log.WithFields(fields).WithField("trigger", trigger.String()).Info("payment notification does not apply, acknowledging")
		return &Outcome{Result: ResultNoop, OrderID: orderID, From: from, To: from}, nil
	}
	fields["to"] = next.String()

	result := ResultApplied
	if next == from {
		result = ResultRepeated
	} else {
		err = p.orders.UpdateStatus(ctx, orderID, from, next, map[string]interface{}{"payment_id": pay.ID})
		if errors.Is(err, repository.ErrStatusConflict) {
			log.WithFields(fields).Info("order moved concurrently, dropping stale payment notification")
			return &Outcome{Result: ResultNoop, OrderID: orderID, From: from, To: from}, nil
		}
		if err != nil {
			return nil, err
		}
		p.metrics.RecordTransition(from.String(), next.String())
	}

	order.Status = next
	if err := p.dispatcher.DispatchEffects(ctx, order, statemachine.Effects(from, next)); err != nil {
		log.WithFields(fields).WithError(err).Error("order updated but follow-up jobs were not enqueued")
		return nil, err
	}

	log.WithFields(fields).Info("payment notification applied")
	return &Outcome{Result: result, OrderID: orderID, From: from, To: next}, nil
}
