// Package notification renders and sends customer notifications for order jobs.
package notification

import (
	"context"
	"fmt"

	"fulfillment/internal/mailer"
	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// ErrUnknownKind the job type is not a notification this worker renders
var ErrUnknownKind = mailer.ErrUnknownKind

// DisplayResolver provides the currency notifications are shown in
type DisplayResolver interface {
	Display(ctx context.Context, code string) (mailer.Display, error)
}

// Service handles notification jobs
type Service interface {
	Handle(ctx context.Context, job *queue.Job) error
}

type service struct {
	renderer *mailer.Renderer
	sender   mailer.Sender
	display  DisplayResolver
	code     string
	fallback mailer.Display
	metrics  *monitor.MetricsCollector
}

// NewService creates a notification service rendering amounts in the code
// currency. fallback is used when that currency cannot be resolved.
func NewService(renderer *mailer.Renderer, sender mailer.Sender, display DisplayResolver, code string, fallback mailer.Display, metrics *monitor.MetricsCollector) Service {
	return &service{
		renderer: renderer,
		sender:   sender,
		display:  display,
		code:     code,
		fallback: fallback,
		metrics:  metrics,
	}
}

func (s *service) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case model.JobOrderCreated, model.JobOrderConfirmed, model.JobOrderStatusUpdate:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Type)
	}

	var payload model.NotificationPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	display := s.fallback
	if s.display != nil && s.code != "" {
		d, err := s.display.Display(ctx, s.code)
		if err != nil {
			log.WithFields(log.Fields{"job_id": job.ID, "error": err}).Warn("display currency unavailable, rendering in base currency")
		} else {
			display = d
		}
	}

	msg, err := s.renderer.Render(job.Type, payload, display)
	if err != nil {
		s.metrics.RecordNotification(job.Type, "render_failed")
		return err
	}

	if err := s.sender.Send(ctx, msg.To, msg.Subject, msg.HTML); err != nil {
		s.metrics.RecordNotification(job.Type, "failed")
		return err
	}

	s.metrics.RecordNotification(job.Type, "sent")
	log.WithFields(log.Fields{
		"job_id":   job.ID,
		"kind":     job.Type,
		"order_id": payload.Order.ID,
		"to":       msg.To,
	}).Info("notification sent")
	return nil
}
