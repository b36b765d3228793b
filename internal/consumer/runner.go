// Package consumer runs the queue workers: one sequential loop per queue with
// a single unsettled delivery at a time.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fulfillment/internal/monitor"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// Prefetch is the number of unsettled deliveries a worker holds
const Prefetch = 1

// ErrDrop marks a job that can never succeed. It is acknowledged and logged
// instead of being nacked.
var ErrDrop = errors.New("job dropped")

// ErrStreamClosed the broker closed the delivery stream while the worker was running
var ErrStreamClosed = errors.New("delivery stream closed")

// Drop wraps err so the runner acknowledges the job
func Drop(err error) error {
	return fmt.Errorf("%w: %w", ErrDrop, err)
}

// Handler processes one job. A nil error acks, a Drop error acks and logs,
// any other error nacks without requeue.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

// Runner consumes one queue
type Runner struct {
	consumer queue.Consumer
	queue    string
	handler  Handler
	metrics  *monitor.MetricsCollector
	tracer   *monitor.Tracer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRunner creates a runner for queueName
func NewRunner(consumer queue.Consumer, queueName string, handler Handler, metrics *monitor.MetricsCollector, tracer *monitor.Tracer) *Runner {
	return &Runner{
		consumer: consumer,
		queue:    queueName,
		handler:  handler,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Start subscribes and processes deliveries in the background until ctx ends
// or Stop is called
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	deliveries, err := r.consumer.Consume(ctx, r.queue, Prefetch)
	if err != nil {
		cancel()
		return fmt.Errorf("consume %s: %w", r.queue, err)
	}

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	log.WithFields(log.Fields{"queue": r.queue, "prefetch": Prefetch}).Info("Starting consumer")

	go func() {
		defer close(r.done)
		err := r.loop(ctx, deliveries)
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}()
	return nil
}

// Run starts the runner and blocks until it stops. It returns ErrStreamClosed
// when the broker went away underneath it.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels consumption and waits for the in-flight job to settle
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.WithField("queue", r.queue).Info("Consumer stopped")
}

// Done is closed once the loop exits
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Runner) loop(ctx context.Context, deliveries <-chan queue.Delivery) error {
	for d := range deliveries {
		// the job already started runs to completion; no per-job timeout
		r.handle(context.WithoutCancel(ctx), d)
	}
	if ctx.Err() != nil {
		return nil
	}
	log.WithField("queue", r.queue).Error("delivery stream closed by broker")
	return fmt.Errorf("%w: %s", ErrStreamClosed, r.queue)
}

func (r *Runner) handle(ctx context.Context, d queue.Delivery) {
	start := time.Now()

	job, err := queue.DecodeJob(d.Body())
	if err != nil {
		log.WithFields(log.Fields{"queue": r.queue, "message_id": d.MessageID(), "error": err}).Error("undecodable job, dropping")
		r.settle(d, "unknown", queue.ErrMalformedJob, monitor.OutcomeDrop, start)
		return
	}

	ctx, span := r.tracer.StartJobSpan(ctx, r.queue, job.Type, job.ID)
	defer span.End()

	fields := log.Fields{
		"queue":    r.queue,
		"job_id":   job.ID,
		"job_type": job.Type,
	}
	if traceID := monitor.TraceID(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}

	err = r.handler.Handle(ctx, job)
	switch {
	case err == nil:
		r.settle(d, job.Type, nil, monitor.OutcomeAck, start)
		log.WithFields(fields).WithField("duration", time.Since(start)).Info("job processed")
	case errors.Is(err, ErrDrop):
		r.tracer.RecordError(span, err)
		r.settle(d, job.Type, err, monitor.OutcomeDrop, start)
		log.WithFields(fields).WithError(err).Error("job dropped")
	default:
		r.tracer.RecordError(span, err)
		r.settle(d, job.Type, err, monitor.OutcomeNack, start)
		log.WithFields(fields).WithError(err).Error("job failed, nacked without requeue")
	}
}

func (r *Runner) settle(d queue.Delivery, jobType string, cause error, outcome string, start time.Time) {
	var err error
	if outcome == monitor.OutcomeNack {
		err = d.Nack(false)
	} else {
		err = d.Ack()
	}
	if err != nil {
		log.WithFields(log.Fields{"queue": r.queue, "outcome": outcome, "cause": cause, "error": err}).Error("failed to settle delivery")
	}
	r.metrics.RecordJob(r.queue, jobType, outcome, time.Since(start))
}
