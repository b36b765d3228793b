package reconcile

import (
	"context"
	"errors"
	"fmt"

	"fulfillment/internal/model"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// ErrNoRecipient the order has no user to notify
var ErrNoRecipient = errors.New("order has no recipient")

// BuildJob turns one effect of a committed transition into a routed job.
// order must already carry its new status.
func BuildJob(order *model.Order, effect statemachine.Effect) (queue.Route, *queue.Job, error) {
	var (
		jobType string
		payload interface{}
		route   = queue.EmailRoute
	)

	switch effect {
	case statemachine.NotifyCreated:
		jobType = model.JobOrderCreated
	case statemachine.NotifyConfirmed:
		jobType = model.JobOrderConfirmed
	case statemachine.NotifyStatusUpdate:
		jobType = model.JobOrderStatusUpdate
	case statemachine.DecrementStock:
		job, err := queue.NewJob(model.JobStockDecrement, model.NewStockPayload(order))
		return queue.StockRoute, job, err
	default:
		return queue.Route{}, nil, fmt.Errorf("unknown effect %d", effect)
	}

	if order.User == nil || order.User.Email == "" {
		return queue.Route{}, nil, fmt.Errorf("%w: order %d", ErrNoRecipient, order.ID)
	}
	payload = model.NotificationPayload{
		Email: order.User.Email,
		Name:  order.User.Name,
		Order: model.NewOrderSnapshot(order),
	}

	job, err := queue.NewJob(jobType, payload)
	return route, job, err
}

// DispatchEffects enqueues every effect. All effects are attempted; the most
// severe failure is returned (ErrLost over ErrDeferred).
func (d *Dispatcher) DispatchEffects(ctx context.Context, order *model.Order, effects []statemachine.Effect) error {
	var worst error
	for _, effect := range effects {
		route, job, err := BuildJob(order, effect)
		if err != nil {
			// the transition is committed; a notification that cannot be addressed is skipped
			log.WithFields(log.Fields{"order_id": order.ID, "effect": effect, "error": err}).Error("follow-up job not built")
			continue
		}

		// a lost effect must not take the ones after it down with it
		if err := d.Dispatch(ctx, order.ID, route, job); err != nil && severity(err) > severity(worst) {
			worst = err
		}
	}
	return worst
}

func severity(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrDeferred):
		return 1
	default:
		return 2
	}
}
