package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"fulfillment/internal/config"
	"fulfillment/internal/model"
	"fulfillment/internal/monitor"
	"fulfillment/internal/repository"
	"fulfillment/pkg/log"
	"fulfillment/pkg/queue"
)

// Result summarises one sweep
type Result struct {
	Published int
	Failed    int
	// Skipped jobs were left untouched because the broker is unavailable
	Skipped int
}

// Lease elects one sweeper among instances sharing the pending table
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sweeper republishes stored follow-up jobs
type Sweeper struct {
	publisher   queue.Publisher
	pending     repository.PendingJobRepository
	metrics     *monitor.MetricsCollector
	lease       Lease
	batchSize   int
	maxAttempts int
}

// NewSweeper creates a sweeper from the reconcile configuration
func NewSweeper(publisher queue.Publisher, pending repository.PendingJobRepository, cfg config.ReconcileConfig, metrics *monitor.MetricsCollector) *Sweeper {
	return &Sweeper{
		publisher:   publisher,
		pending:     pending,
		metrics:     metrics,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
	}
}

// WithLease makes Run skip a tick unless lease is acquired
func (s *Sweeper) WithLease(lease Lease) *Sweeper {
	s.lease = lease
	return s
}

// Sweep republishes one batch of pending jobs in insertion order. A publish
// failure is recorded against the job and the sweep moves on.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	jobs, err := s.pending.ListUnpublished(ctx, s.batchSize, s.maxAttempts)
	if err != nil {
		return res, err
	}

	for i, pj := range jobs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		var job queue.Job
		if err := json.Unmarshal(pj.Body, &job); err != nil {
			res.Failed++
			s.metrics.RecordReconcile("undecodable")
			log.WithFields(log.Fields{"pending_job_id": pj.ID, "error": err}).Error("pending job body undecodable")
			if recErr := s.fail(ctx, pj, "undecodable: "+err.Error()); recErr != nil {
				return res, recErr
			}
			continue
		}

		route := queue.Route{Exchange: pj.Exchange, RoutingKey: pj.RoutingKey}
		if err := s.publisher.Publish(ctx, route, &job); err != nil {
			if errors.Is(err, queue.ErrBrokerUnavailable) {
				// an outage says nothing about the job; keep its attempts for the next sweep
				res.Skipped = len(jobs) - i
				s.metrics.RecordReconcile("skipped")
				log.WithFields(log.Fields{"pending": res.Skipped, "error": err}).Warn("broker unavailable, sweep postponed")
				break
			}
			res.Failed++
			s.metrics.RecordReconcile("failed")
			log.WithFields(log.Fields{
				"pending_job_id": pj.ID,
				"order_id":       pj.OrderID,
				"route":          route.String(),
				"attempts":       pj.Attempts + 1,
				"error":          err,
			}).Warn("pending job republish failed")
			if recErr := s.fail(ctx, pj, err.Error()); recErr != nil {
				return res, recErr
			}
			continue
		}

		if err := s.pending.MarkPublished(ctx, pj.ID); err != nil {
			// the job is on the broker; a second publish on the next sweep is absorbed by idempotent handlers
			log.WithFields(log.Fields{"pending_job_id": pj.ID, "error": err}).Error("failed to mark pending job published")
			return res, err
		}
		res.Published++
		s.metrics.RecordReconcile("published")
	}

	if res.Published > 0 || res.Failed > 0 || res.Skipped > 0 {
		log.WithFields(log.Fields{"published": res.Published, "failed": res.Failed, "skipped": res.Skipped}).Info("reconciliation sweep finished")
	}
	return res, nil
}

// fail records a failed attempt; the last allowed attempt is reported for
// manual remediation since the sweep no longer picks the job up
func (s *Sweeper) fail(ctx context.Context, pj *model.PendingJob, reason string) error {
	if err := s.pending.RecordFailure(ctx, pj.ID, reason); err != nil {
		return err
	}
	if s.maxAttempts > 0 && pj.Attempts+1 >= s.maxAttempts {
		s.metrics.RecordReconcile("exhausted")
		log.WithFields(log.Fields{
			"pending_job_id": pj.ID,
			"order_id":       pj.OrderID,
			"message_id":     pj.MessageID,
			"route":          pj.Exchange + "/" + pj.RoutingKey,
			"attempts":       pj.Attempts + 1,
			"last_error":     reason,
		}).Error("pending job out of attempts, manual remediation required")
	}
	return nil
}

// Run sweeps every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep if this instance holds the lease. It reports whether a
// sweep ran.
func (s *Sweeper) tick(ctx context.Context) bool {
	if s.lease != nil {
		held, err := s.lease.Acquire(ctx)
		if err != nil {
			log.WithError(err).Warn("sweep lease unavailable, skipping tick")
			return false
		}
		if !held {
			log.Debug("another instance holds the sweep lease")
			return false
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("sweep lease release failed")
			}
		}()
	}

	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("reconciliation sweep failed")
	}
	return true
}
