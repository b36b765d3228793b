package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/service/payment"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
	"fulfillment/pkg/utils"
)

// Webhook outcomes recorded per notification
const (
	webhookQueued       = "queued"
	webhookInline       = "inline"
	webhookInlineFailed = "inline_failed"
	webhookIgnored      = "ignored"
	webhookInvalid      = "invalid"
)

// WebhookHandler receives payment provider notifications
type WebhookHandler struct {
	publisher queue.Publisher
	processor payment.Processor
	metrics   *monitor.MetricsCollector
}

// NewWebhookHandler creates a webhook handler. publisher may be nil when the
// broker is unreachable; every notification is then processed inline.
func NewWebhookHandler(publisher queue.Publisher, processor payment.Processor, metrics *monitor.MetricsCollector) *WebhookHandler {
	return &WebhookHandler{
		publisher: publisher,
		processor: processor,
		metrics:   metrics,
	}
}

type webhookRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// notification extracts the event type and payment id from the JSON body,
// falling back to the IPN query form ?type=payment&data.id=<id>.
func notification(c *gin.Context) (eventType, action, paymentID string) {
	body, _ := c.GetRawData()

	var req webhookRequest
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &req) == nil {
		eventType, action, paymentID = req.Type, req.Action, rawID(req.Data.ID)
	}

	if eventType == "" {
		eventType = c.Query("type")
		if eventType == "" {
			eventType = c.Query("topic")
		}
	}
	if paymentID == "" {
		paymentID = c.Query("data.id")
		if paymentID == "" {
			paymentID = c.Query("id")
		}
	}
	return eventType, action, strings.TrimSpace(paymentID)
}

// rawID accepts the payment id as a JSON string or number
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Receive acknowledges every notification with 200. The response never
// reveals what the notification did.
func (h *WebhookHandler) Receive(c *gin.Context) {
	eventType, action, paymentID := notification(c)
	fields := log.Fields{
		"type":       eventType,
		"payment_id": paymentID,
		"request_id": c.GetString("request_id"),
	}

	switch {
	case eventType != model.JobPaymentEvent:
		log.WithFields(fields).Info("Ignoring webhook event")
		h.metrics.RecordWebhook(eventType, webhookIgnored)
	case paymentID == "":
		log.WithFields(fields).Warn("Payment webhook without payment id")
		h.metrics.RecordWebhook(eventType, webhookInvalid)
	default:
		h.metrics.RecordWebhook(eventType, h.handOff(c.Request.Context(), fields, model.PaymentEvent{
			PaymentID:  paymentID,
			Action:     action,
			ReceivedAt: time.Now().UTC(),
		}))
	}

	utils.SuccessResponse(c, gin.H{"received": true})
}

// handOff enqueues the event, or processes it inline when the broker refuses it
func (h *WebhookHandler) handOff(ctx context.Context, fields log.Fields, event model.PaymentEvent) string {
	if h.publisher != nil {
		job, err := queue.NewJob(model.JobPaymentEvent, event)
		if err == nil {
			err = h.publisher.Publish(ctx, queue.WebhookRoute, job)
		}
		if err == nil {
			log.WithFields(fields).WithField("job_id", job.ID).Info("Payment webhook queued")
			return webhookQueued
		}
		log.WithFields(fields).WithError(err).Warn("Publish failed, processing payment webhook inline")
	}

	// the caller may hang up; the transition must still complete
	outcome, err := h.processor.Process(context.WithoutCancel(ctx), event.PaymentID)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Inline payment processing failed")
		return webhookInlineFailed
	}
	log.WithFields(fields).WithField("result", string(outcome.Result)).Info("Payment webhook processed inline")
	return webhookInline
}
