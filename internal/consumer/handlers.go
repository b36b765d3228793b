package consumer

import (
	"context"
	"errors"
	"fmt"

	"fulfillment/internal/model"
	"fulfillment/internal/service/inventory"
	"fulfillment/internal/service/notification"
	"fulfillment/internal/service/payment"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// ErrUnexpectedJob the job type does not belong on this queue
var ErrUnexpectedJob = errors.New("unexpected job type")

// PaymentHandler applies queued payment notifications
type PaymentHandler struct {
	processor payment.Processor
}

// NewPaymentHandler creates the webhook queue handler
func NewPaymentHandler(processor payment.Processor) *PaymentHandler {
	return &PaymentHandler{processor: processor}
}

func (h *PaymentHandler) Handle(ctx context.Context, job *queue.Job) error {
	if job.Type != model.JobPaymentEvent {
		return Drop(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.Type))
	}

	var event model.PaymentEvent
	if err := job.Decode(&event); err != nil {
		return Drop(err)
	}
	if event.PaymentID == "" {
		return Drop(fmt.Errorf("%w: payment event without id", queue.ErrMalformedJob))
	}

	out, err := h.processor.Process(ctx, event.PaymentID)
	if err != nil {
		if errors.Is(err, payment.ErrOrderUnknown) {
			return Drop(err)
		}
		return err
	}

	log.WithFields(log.Fields{
		"job_id":     job.ID,
		"payment_id": event.PaymentID,
		"order_id":   out.OrderID,
		"result":     out.Result,
	}).Debug("payment job handled")
	return nil
}

// NotificationHandler sends queued customer notifications
type NotificationHandler struct {
	service notification.Service
}

// NewNotificationHandler creates the email queue handler
func NewNotificationHandler(service notification.Service) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) Handle(ctx context.Context, job *queue.Job) error {
	err := h.service.Handle(ctx, job)
	if errors.Is(err, notification.ErrUnknownKind) || errors.Is(err, queue.ErrMalformedJob) {
		return Drop(err)
	}
	return err
}

// InventoryHandler applies queued stock decrements
type InventoryHandler struct {
	service inventory.Service
}

// NewInventoryHandler creates the stock queue handler
func NewInventoryHandler(service inventory.Service) *InventoryHandler {
	return &InventoryHandler{service: service}
}

func (h *InventoryHandler) Handle(ctx context.Context, job *queue.Job) error {
	if job.Type != model.JobStockDecrement {
		return Drop(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.Type))
	}

	var payload model.StockPayload
	if err := job.Decode(&payload); err != nil {
		return Drop(err)
	}

	_, err := h.service.Apply(ctx, job.ID, payload)
	if errors.Is(err, inventory.ErrEmptyBatch) {
		return Drop(err)
	}
	return err
}
