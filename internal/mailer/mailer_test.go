package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/config"
	"fulfillment/internal/model"
)

func samplePayload(status model.OrderStatus) model.NotificationPayload {
	tripDate := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	tripTime := "09:30"
	return model.NotificationPayload{
		Email: "ana@example.com",
		Name:  "Ana <b>",
		Order: model.OrderSnapshot{
			ID:        42,
			Status:    status,
			Total:     decimal.RequireFromString("121.00"),
			CreatedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
			Items: []model.ItemSnapshot{
				{ProductID: 1, Name: "Canal tour", Destination: "Amsterdam", Quantity: 2, Price: decimal.RequireFromString("25.00"), TripDate: &tripDate, TripTime: &tripTime},
				{ProductID: 2, Name: "Museum pass", Quantity: 1, Price: decimal.RequireFromString("50.00")},
			},
		},
	}
}

func TestRenderer_Totals(t *testing.T) {
	r := NewRenderer(0.21)

	msg, err := r.Render(model.JobOrderConfirmed, samplePayload(model.OrderStatusCompleted), BaseDisplay("EUR", "€"))
	require.NoError(t, err)

	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Order #42 confirmed", msg.Subject)
	assert.Contains(t, msg.HTML, "Subtotal: €100.00 EUR")
	assert.Contains(t, msg.HTML, "Tax (21%): €21.00 EUR")
	assert.Contains(t, msg.HTML, "Total: €121.00 EUR")
	assert.Contains(t, msg.HTML, "Amsterdam · 2026-11-02 · 09:30")
	assert.Contains(t, msg.HTML, "Ana &lt;b&gt;")
	assert.NotContains(t, msg.HTML, "New status")
}

func TestRenderer_StatusUpdate(t *testing.T) {
	r := NewRenderer(0.21)

	msg, err := r.Render(model.JobOrderStatusUpdate, samplePayload(model.OrderStatusPending), BaseDisplay("EUR", "€"))
	require.NoError(t, err)

	assert.Equal(t, "Order #42 is now Pending", msg.Subject)
	assert.Contains(t, msg.HTML, "New status")
	assert.Contains(t, msg.HTML, model.OrderStatusPending.Label())
	assert.Contains(t, msg.HTML, model.OrderStatusPending.Color())
}

func TestRenderer_DisplayCurrency(t *testing.T) {
	r := NewRenderer(0)

	msg, err := r.Render(model.JobOrderCreated, samplePayload(model.OrderStatusProcessing),
		Display{Code: "USD", Symbol: "$", Rate: decimal.RequireFromString("1.10")})
	require.NoError(t, err)

	assert.Equal(t, "Order #42 received", msg.Subject)
	assert.Contains(t, msg.HTML, "Subtotal: $110.00 USD")
	assert.Contains(t, msg.HTML, "Tax (0%): $0.00 USD")
}

func TestRenderer_UnknownKind(t *testing.T) {
	_, err := NewRenderer(0.21).Render("order-shipped", samplePayload(model.OrderStatusPending), BaseDisplay("EUR", "€"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSMTPSender(t *testing.T) {
	sender, err := NewSMTPSender(config.MailConfig{
		Host: "smtp.example.com", Port: 587, Username: "bot", Password: "secret",
		From: "orders@example.com", FromName: "Orders",
	})
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	require.NoError(t, sender.Send(context.Background(), "ana@example.com", "Order #42 confirmed", "<p>hi</p>"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.True(t, strings.HasSuffix(string(gotMsg), "\r\n\r\n<p>hi</p>"))
	assert.Contains(t, string(gotMsg), "Content-Type: text/html; charset=UTF-8")

	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("454 relay unavailable")
	}
	assert.ErrorIs(t, sender.Send(context.Background(), "ana@example.com", "s", "b"), ErrSend)
	assert.ErrorIs(t, sender.Send(context.Background(), " ", "s", "b"), ErrSend)
}

func TestNewSMTPSenderValidation(t *testing.T) {
	_, err := NewSMTPSender(config.MailConfig{From: "a@b.c"})
	assert.Error(t, err)
	_, err = NewSMTPSender(config.MailConfig{Host: "smtp.example.com"})
	assert.Error(t, err)
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	require.NoError(t, o.Send(context.Background(), "a@b.c", "s", "h"))
	o.Fail(errors.New("down"))
	assert.ErrorIs(t, o.Send(context.Background(), "a@b.c", "s", "h"), ErrSend)
	assert.Len(t, o.Messages(), 1)
}
