package queue

const (
	EmailExchange   = "email_exchange"
	WebhookExchange = "webhook_exchange"
	StockExchange   = "stock_exchange"

	EmailQueue   = "email_queue"
	WebhookQueue = "webhook_queue"
	StockQueue   = "stock_queue"

	EmailRoutingKey   = "email"
	WebhookRoutingKey = "webhook"
	StockRoutingKey   = "stock"
)

// Route addresses a publish
type Route struct {
	Exchange   string
	RoutingKey string
}

func (r Route) String() string {
	return r.Exchange + "/" + r.RoutingKey
}

// Binding ties a direct exchange to its durable queue
type Binding struct {
	Route
	Queue string
}

var (
	EmailRoute   = Route{Exchange: EmailExchange, RoutingKey: EmailRoutingKey}
	WebhookRoute = Route{Exchange: WebhookExchange, RoutingKey: WebhookRoutingKey}
	StockRoute   = Route{Exchange: StockExchange, RoutingKey: StockRoutingKey}
)

// Topology is declared idempotently by every process on connect
var Topology = []Binding{
	{Route: EmailRoute, Queue: EmailQueue},
	{Route: WebhookRoute, Queue: WebhookQueue},
	{Route: StockRoute, Queue: StockQueue},
}

// QueueFor resolves the queue bound to route
func QueueFor(route Route) (string, bool) {
	for _, b := range Topology {
		if b.Route == route {
			return b.Queue, true
		}
	}
	return "", false
}
