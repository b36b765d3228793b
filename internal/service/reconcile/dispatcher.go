// Package reconcile keeps follow-up jobs from being lost when the broker is
// unreachable after a committed state change.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/repository"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

var (
	// ErrDeferred publish failed but the job is stored for the sweep
	ErrDeferred = errors.New("follow-up job deferred to reconciliation")
	// ErrLost publish failed and the job could not be stored either
	ErrLost = errors.New("follow-up job lost")
)

// Dispatcher publishes follow-up jobs, falling back to the pending job table
type Dispatcher struct {
	publisher queue.Publisher
	pending   repository.PendingJobRepository
	metrics   *monitor.MetricsCollector
}

// NewDispatcher creates a dispatcher
func NewDispatcher(publisher queue.Publisher, pending repository.PendingJobRepository, metrics *monitor.MetricsCollector) *Dispatcher {
	return &Dispatcher{publisher: publisher, pending: pending, metrics: metrics}
}

// Dispatch publishes job to route. On failure the job is stored and
// ErrDeferred returned; ErrLost means nothing durable remains.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID uint64, route queue.Route, job *queue.Job) error {
	err := d.publisher.Publish(ctx, route, job)
	if err == nil {
		return nil
	}

	fields := log.Fields{
		"order_id": orderID,
		"route":    route.String(),
		"job_id":   job.ID,
		"job_type": job.Type,
		"error":    err,
	}

	body, marshalErr := json.Marshal(job)
	if marshalErr != nil {
		log.WithFields(fields).Error("follow-up job could not be encoded for storage")
		return fmt.Errorf("%w: %v", ErrLost, marshalErr)
	}

	record := &model.PendingJob{
		MessageID:  job.ID,
		OrderID:    orderID,
		Exchange:   route.Exchange,
		RoutingKey: route.RoutingKey,
		Body:       body,
		LastError:  truncate(err.Error(), 512),
	}
	if storeErr := d.pending.Create(ctx, record); storeErr != nil {
		fields["store_error"] = storeErr
		log.WithFields(fields).Error("follow-up job lost: publish and store both failed")
		return fmt.Errorf("%w: publish: %v; store: %v", ErrLost, err, storeErr)
	}

	d.metrics.RecordDeferred(route.String())
	log.WithFields(fields).Warn("follow-up job stored for reconciliation")
	return fmt.Errorf("%w: %v", ErrDeferred, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
