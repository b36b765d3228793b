package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/mailer"
	"fulfillment/internal/model"
	"fulfillment/pkg/queue"
)

type staticDisplay struct {
	d   mailer.Display
	err error
}

func (s staticDisplay) Display(ctx context.Context, code string) (mailer.Display, error) {
	return s.d, s.err
}

func notificationJob(t *testing.T, kind string, status model.OrderStatus) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(kind, model.NotificationPayload{
		Email: "ana@example.com",
		Name:  "Ana",
		Order: model.OrderSnapshot{
			ID:        42,
			Status:    status,
			CreatedAt: time.Now(),
			Items: []model.ItemSnapshot{
				{ProductID: 1, Name: "Canal tour", Quantity: 2, Price: decimal.RequireFromString("50.00")},
			},
		},
	})
	require.NoError(t, err)
	return job
}

func TestHandle_SendsConfirmation(t *testing.T) {
	outbox := mailer.NewOutbox()
	usd := mailer.Display{Code: "USD", Symbol: "$", Rate: decimal.RequireFromString("1.087")}
	svc := NewService(mailer.NewRenderer(0.21), outbox, staticDisplay{d: usd}, "USD", mailer.BaseDisplay("EUR", "€"), nil)

	require.NoError(t, svc.Handle(context.Background(), notificationJob(t, model.JobOrderConfirmed, model.OrderStatusCompleted)))

	sent := outbox.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].To)
	assert.Equal(t, "Order #42 confirmed", sent[0].Subject)
	assert.Contains(t, sent[0].HTML, "$108.70 USD")
}

func TestHandle_DisplayFallback(t *testing.T) {
	outbox := mailer.NewOutbox()
	svc := NewService(mailer.NewRenderer(0.21), outbox, staticDisplay{err: errors.New("redis down")}, "USD", mailer.BaseDisplay("EUR", "€"), nil)

	require.NoError(t, svc.Handle(context.Background(), notificationJob(t, model.JobOrderStatusUpdate, model.OrderStatusCancelled)))
	sent := outbox.Messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].HTML, "€100.00 EUR")
	assert.Contains(t, sent[0].HTML, "Cancelled")
}

func TestHandle_UnknownKind(t *testing.T) {
	outbox := mailer.NewOutbox()
	svc := NewService(mailer.NewRenderer(0.21), outbox, nil, "", mailer.BaseDisplay("EUR", "€"), nil)

	err := svc.Handle(context.Background(), notificationJob(t, "order-shipped", model.OrderStatusCompleted))
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Empty(t, outbox.Messages())
}

func TestHandle_SendFailure(t *testing.T) {
	outbox := mailer.NewOutbox()
	outbox.Fail(errors.New("relay down"))
	svc := NewService(mailer.NewRenderer(0.21), outbox, nil, "", mailer.BaseDisplay("EUR", "€"), nil)

	err := svc.Handle(context.Background(), notificationJob(t, model.JobOrderCreated, model.OrderStatusProcessing))
	assert.ErrorIs(t, err, mailer.ErrSend)
}

func TestHandle_MalformedPayload(t *testing.T) {
	svc := NewService(mailer.NewRenderer(0.21), mailer.NewOutbox(), nil, "", mailer.BaseDisplay("EUR", "€"), nil)
	job := &queue.Job{ID: "j", Type: model.JobOrderCreated, Payload: []byte(`"oops"`)}

	err := svc.Handle(context.Background(), job)
	assert.ErrorIs(t, err, queue.ErrMalformedJob)
}
