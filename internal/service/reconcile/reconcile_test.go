package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/config"
	"fulfillment/internal/model"
	"fulfillment/internal/repository/repotest"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/lock"
	"fulfillment/pkg/queue"
)

func newBroker() *queue.MemoryBroker {
	return queue.NewMemoryBroker(&queue.MemoryBrokerConfig{BufferSize: 16})
}

func TestDispatch_Published(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)

	job, err := queue.NewJob(model.JobStockDecrement, model.StockPayload{OrderID: 1})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), 1, queue.StockRoute, job))
	assert.Equal(t, 1, broker.Len(queue.StockQueue))
	assert.Empty(t, store.PendingJobs())
}

func TestDispatch_DeferredThenSwept(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	ctx := context.Background()

	broker.FailPublishes(queue.ErrBrokerUnavailable)
	job, err := queue.NewJob(model.JobOrderConfirmed, model.NotificationPayload{Email: "ana@example.com"})
	require.NoError(t, err)

	err = d.Dispatch(ctx, 5, queue.EmailRoute, job)
	assert.ErrorIs(t, err, ErrDeferred)

	pending := store.PendingJobs()
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].MessageID)
	assert.Equal(t, queue.EmailExchange, pending[0].Exchange)

	sweeper := NewSweeper(broker, store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 3}, nil)

	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Equal(t, 0, store.PendingJobs()[0].Attempts)

	broker.FailPublishes(nil)
	res, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 1}, res)

	jobs := broker.Drain(queue.EmailQueue)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
	assert.Equal(t, model.JobOrderConfirmed, jobs[0].Type)

	res, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestDispatch_Lost(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)

	broker.FailPublishes(queue.ErrBrokerUnavailable)
	store.FailNext(errors.New("db down"))
	job, _ := queue.NewJob(model.JobStockDecrement, model.StockPayload{OrderID: 1})

	err := d.Dispatch(context.Background(), 1, queue.StockRoute, job)
	assert.ErrorIs(t, err, ErrLost)
}

func TestSweep_GivesUpAfterMaxAttempts(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	ctx := context.Background()

	broker.FailPublishes(queue.ErrBrokerUnavailable)
	job, _ := queue.NewJob(model.JobStockDecrement, model.StockPayload{OrderID: 1})
	_ = d.Dispatch(ctx, 1, queue.StockRoute, job)

	// the broker is up but refuses this message
	broker.FailPublishes(errors.New("NOT_FOUND - no exchange 'stock_exchange'"))
	sweeper := NewSweeper(broker, store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 2}, nil)
	for i := 0; i < 4; i++ {
		_, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.PendingJobs()[0].Attempts)
}

func TestSweep_OutageDoesNotSpendAttempts(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	ctx := context.Background()

	broker.FailPublishes(queue.ErrBrokerUnavailable)
	for i := uint64(1); i <= 2; i++ {
		job, _ := queue.NewJob(model.JobStockDecrement, model.StockPayload{OrderID: i})
		require.ErrorIs(t, d.Dispatch(ctx, i, queue.StockRoute, job), ErrDeferred)
	}

	sweeper := NewSweeper(broker, store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 3}, nil)
	for i := 0; i < 20; i++ {
		res, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, Result{Skipped: 2}, res)
	}
	for _, pj := range store.PendingJobs() {
		assert.Equal(t, 0, pj.Attempts)
	}

	broker.FailPublishes(nil)
	res, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 2}, res)
	assert.Equal(t, 2, broker.Len(queue.StockQueue))
}

func TestSweep_UndecodableBody(t *testing.T) {
	store := repotest.NewStore()
	require.NoError(t, store.PendingJobRepo().Create(context.Background(), &model.PendingJob{
		MessageID: "m-1", Exchange: queue.StockExchange, RoutingKey: queue.StockRoutingKey, Body: []byte("{"),
	}))

	sweeper := NewSweeper(newBroker(), store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 3}, nil)
	res, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func sampleOrder(status model.OrderStatus) *model.Order {
	return &model.Order{
		ID:     9,
		UserID: 3,
		Status: status,
		User:   &model.User{ID: 3, Name: "Ana", Email: "ana@example.com"},
		Items: []model.OrderItem{
			{ProductID: 1, Quantity: 2, Product: &model.Product{ID: 1, Name: "Canal tour"}},
		},
	}
}

func TestDispatchEffects_Completed(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)

	order := sampleOrder(model.OrderStatusCompleted)
	effects := statemachine.Effects(model.OrderStatusProcessing, model.OrderStatusCompleted)
	require.NoError(t, d.DispatchEffects(context.Background(), order, effects))

	emails := broker.Drain(queue.EmailQueue)
	require.Len(t, emails, 1)
	assert.Equal(t, model.JobOrderConfirmed, emails[0].Type)
	var note model.NotificationPayload
	require.NoError(t, emails[0].Decode(&note))
	assert.Equal(t, "ana@example.com", note.Email)
	assert.Equal(t, model.OrderStatusCompleted, note.Order.Status)
	assert.Equal(t, "Canal tour", note.Order.Items[0].Name)

	stock := broker.Drain(queue.StockQueue)
	require.Len(t, stock, 1)
	var payload model.StockPayload
	require.NoError(t, stock[0].Decode(&payload))
	assert.Equal(t, model.StockPayload{OrderID: 9, Items: []model.StockItem{{ProductID: 1, Quantity: 2}}}, payload)
}

func TestDispatchEffects_DeferredKeepsGoing(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	broker.FailPublishes(queue.ErrBrokerUnavailable)

	err := d.DispatchEffects(context.Background(), sampleOrder(model.OrderStatusCompleted),
		[]statemachine.Effect{statemachine.NotifyConfirmed, statemachine.DecrementStock})
	assert.ErrorIs(t, err, ErrDeferred)
	assert.Len(t, store.PendingJobs(), 2)
}

func TestDispatchEffects_LostDoesNotStopLaterEffects(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	broker.FailPublishes(queue.ErrBrokerUnavailable)
	store.FailNext(errors.New("db down"))

	err := d.DispatchEffects(context.Background(), sampleOrder(model.OrderStatusCompleted),
		[]statemachine.Effect{statemachine.NotifyConfirmed, statemachine.DecrementStock})
	assert.ErrorIs(t, err, ErrLost)
	assert.NotErrorIs(t, err, ErrDeferred)

	// the notification is gone but the stock decrement behind it was still stored
	pending := store.PendingJobs()
	require.Len(t, pending, 1)
	assert.Equal(t, queue.StockExchange, pending[0].Exchange)
}

func TestDispatchEffects_DeferredDoesNotMaskLost(t *testing.T) {
	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	broker.FailPublishes(queue.ErrBrokerUnavailable)
	store.FailNext(errors.New("db down"))

	err := d.DispatchEffects(context.Background(), sampleOrder(model.OrderStatusCompleted),
		[]statemachine.Effect{statemachine.DecrementStock, statemachine.NotifyConfirmed, statemachine.NotifyStatusUpdate})
	assert.ErrorIs(t, err, ErrLost)

	pending := store.PendingJobs()
	require.Len(t, pending, 2)
	assert.Equal(t, queue.EmailExchange, pending[0].Exchange)
	assert.Equal(t, queue.EmailExchange, pending[1].Exchange)
}

func TestBuildJob_NoRecipient(t *testing.T) {
	order := sampleOrder(model.OrderStatusPending)
	order.User = nil

	_, _, err := BuildJob(order, statemachine.NotifyStatusUpdate)
	assert.ErrorIs(t, err, ErrNoRecipient)

	route, job, err := BuildJob(order, statemachine.DecrementStock)
	require.NoError(t, err)
	assert.Equal(t, queue.StockRoute, route)
	assert.Equal(t, model.JobStockDecrement, job.Type)
}

func TestSweeper_TickRequiresLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	store := repotest.NewStore()
	broker := newBroker()
	d := NewDispatcher(broker, store.PendingJobRepo(), nil)
	broker.FailPublishes(queue.ErrBrokerUnavailable)
	job, _ := queue.NewJob(model.JobStockDecrement, model.StockPayload{OrderID: 1})
	require.ErrorIs(t, d.Dispatch(ctx, 1, queue.StockRoute, job), ErrDeferred)
	broker.FailPublishes(nil)

	other := lock.NewLease(client, "fulfillment:reconcile", time.Minute)
	held, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, held)

	sweeper := NewSweeper(broker, store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 3}, nil).
		WithLease(lock.NewLease(client, "fulfillment:reconcile", time.Minute))

	assert.False(t, sweeper.tick(ctx))
	assert.Equal(t, 0, broker.Len(queue.StockQueue))

	require.NoError(t, other.Release(ctx))
	assert.True(t, sweeper.tick(ctx))
	assert.Equal(t, 1, broker.Len(queue.StockQueue))

	// the lease is given back after the sweep
	held, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestSweeper_TickLeaseBackendDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	store := repotest.NewStore()
	sweeper := NewSweeper(newBroker(), store.PendingJobRepo(), config.ReconcileConfig{BatchSize: 10, MaxAttempts: 3}, nil).
		WithLease(lock.NewLease(client, "fulfillment:reconcile", time.Minute))
	assert.False(t, sweeper.tick(context.Background()))
}
