package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"fulfillment/internal/model"
)

// Display describes the currency amounts are rendered in. Rate converts from
// the stored base currency.
type Display struct {
	Code   string
	Symbol string
	Rate   decimal.Decimal
}

// BaseDisplay renders amounts unconverted
func BaseDisplay(code, symbol string) Display {
	return Display{Code: code, Symbol: symbol, Rate: decimal.NewFromInt(1)}
}

// Message is a rendered notification
type Message struct {
	To      string
	Subject string
	HTML    string
}

// ErrUnknownKind there is no template for the notification kind
var ErrUnknownKind = errors.New("unknown notification kind")

type line struct {
	Name     string
	Detail   string
	Quantity int
	Price    string
	Total    string
}

type view struct {
	Heading     string
	Intro       string
	Name        string
	OrderID     uint64
	Date        string
	Lines       []line
	Subtotal    string
	TaxPercent  string
	Tax         string
	Total       string
	ShowStatus  bool
	StatusLabel string
	StatusColor string
}

// Renderer turns notification payloads into HTML messages
type Renderer struct {
	tmpl    *template.Template
	taxRate decimal.Decimal
}

// NewRenderer creates a renderer applying taxRate (0.21 = 21%)
func NewRenderer(taxRate float64) *Renderer {
	return &Renderer{
		tmpl:    template.Must(template.New("order").Parse(orderTemplate)),
		taxRate: decimal.NewFromFloat(taxRate),
	}
}

// Render builds the message for kind, one of the order notification job types
func (r *Renderer) Render(kind string, p model.NotificationPayload, d Display) (*Message, error) {
	v := view{
		Name:    p.Name,
		OrderID: p.Order.ID,
		Date:    p.Order.CreatedAt.Format("02 Jan 2006 15:04"),
	}

	var subject string
	switch kind {
	case model.JobOrderCreated:
		subject = fmt.Sprintf("Order #%d received", p.Order.ID)
		v.Heading = "Order received"
		v.Intro = "We have received your order and are waiting for the payment confirmation."
	case model.JobOrderConfirmed:
		subject = fmt.Sprintf("Order #%d confirmed", p.Order.ID)
		v.Heading = "Purchase confirmed"
		v.Intro = "Your payment was approved and your order has been processed."
	case model.JobOrderStatusUpdate:
		subject = fmt.Sprintf("Order #%d is now %s", p.Order.ID, p.Order.Status.Label())
		v.Heading = "Order status updated"
		v.Intro = "The status of your order has changed."
		v.ShowStatus = true
		v.StatusLabel = p.Order.Status.Label()
		v.StatusColor = p.Order.Status.Color()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	for _, item := range p.Order.Items {
		l := line{
			Name:     item.Name,
			Detail:   item.Destination,
			Quantity: item.Quantity,
			Price:    d.format(item.Price),
			Total:    d.format(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		}
		if item.TripDate != nil {
			l.Detail = joinDetail(l.Detail, item.TripDate.Format("2006-01-02"))
		}
		if item.TripTime != nil {
			l.Detail = joinDetail(l.Detail, *item.TripTime)
		}
		v.Lines = append(v.Lines, l)
	}

	subtotal := p.Order.Subtotal()
	tax := subtotal.Mul(r.taxRate)
	v.Subtotal = d.format(subtotal)
	v.Tax = d.format(tax)
	v.Total = d.format(subtotal.Add(tax))
	v.TaxPercent = r.taxRate.Mul(decimal.NewFromInt(100)).StringFixed(0)

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render %s: %w", kind, err)
	}

	return &Message{To: p.Email, Subject: subject, HTML: buf.String()}, nil
}

func (d Display) format(amount decimal.Decimal) string {
	rate := d.Rate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	return fmt.Sprintf("%s%s %s", d.Symbol, amount.Mul(rate).StringFixed(2), d.Code)
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + " · " + b
}

const orderTemplate = `<div style="max-width:600px;margin:0 auto;padding:20px;font-family:'Segoe UI',Tahoma,sans-serif;background-color:#f8f9fa;">
  <div style="background-color:#fff;padding:40px;border-radius:12px;">
    <h2 style="color:#2563eb;text-align:center;">{{.Heading}}</h2>
    <p>Hello {{.Name}},</p>
    <p>{{.Intro}}</p>
    <p><strong>Order number:</strong> #{{.OrderID}}<br><strong>Date:</strong> {{.Date}}</p>
    {{- if .ShowStatus}}
    <p><strong>New status:</strong> <span style="background-color:{{.StatusColor}};color:#fff;padding:4px 12px;border-radius:12px;">{{.StatusLabel}}</span></p>
    {{- end}}
    <table style="width:100%;border-collapse:collapse;">
      <thead><tr><th style="text-align:left;">Product</th><th>Quantity</th><th style="text-align:right;">Price</th><th style="text-align:right;">Total</th></tr></thead>
      <tbody>
      {{- range .Lines}}
        <tr><td>{{.Name}}{{if .Detail}}<br><small>{{.Detail}}</small>{{end}}</td><td style="text-align:center;">{{.Quantity}}</td><td style="text-align:right;">{{.Price}}</td><td style="text-align:right;">{{.Total}}</td></tr>
      {{- end}}
      </tbody>
    </table>
    <p style="text-align:right;">Subtotal: {{.Subtotal}}<br>Tax ({{.TaxPercent}}%): {{.Tax}}<br><strong>Total: {{.Total}}</strong></p>
  </div>
</div>`
