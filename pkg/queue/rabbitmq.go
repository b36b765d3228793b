package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig AMQP connection settings
type RabbitConfig struct {
	URL            string
	PublishTimeout time.Duration
	// ReconnectDelay bounds how often a publisher redials after losing the connection
	ReconnectDelay time.Duration
	// SettleTimeout bounds how long a stopping consumer waits for its in-flight delivery
	SettleTimeout time.Duration
}

// RabbitBroker publishes with confirms on a shared channel and opens one
// channel per consumer.
type RabbitBroker struct {
	cfg RabbitConfig

	mu          sync.Mutex
	conn        *amqp.Connection
	pubCh       *amqp.Channel
	lastAttempt time.Time
	closed      bool
}

// NewRabbitBroker creates an unconnected broker; call Connect before use
func NewRabbitBroker(cfg RabbitConfig) *RabbitBroker {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	return &RabbitBroker{cfg: cfg}
}

// DialRabbitMQ connects and declares the topology
func DialRabbitMQ(cfg RabbitConfig) (*RabbitBroker, error) {
	b := NewRabbitBroker(cfg)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// Connect dials the broker, declares the topology and enables publisher confirms
func (b *RabbitBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *RabbitBroker) connectLocked() error {
	if b.closed {
		return ErrQueueClosed
	}
	b.lastAttempt = time.Now()

	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: open channel: %v", ErrBrokerUnavailable, err)
	}
	if err := DeclareTopology(ch); err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("%w: enable confirms: %v", ErrBrokerUnavailable, err)
	}

	b.conn = conn
	b.pubCh = ch
	return nil
}

// DeclareTopology declares the durable direct exchanges, queues and bindings
func DeclareTopology(ch *amqp.Channel) error {
	for _, binding := range Topology {
		if err := ch.ExchangeDeclare(binding.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("%w: declare exchange %s: %v", ErrBrokerUnavailable, binding.Exchange, err)
		}
		if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("%w: declare queue %s: %v", ErrBrokerUnavailable, binding.Queue, err)
		}
		if err := ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, nil); err != nil {
			return fmt.Errorf("%w: bind %s: %v", ErrBrokerUnavailable, binding.Queue, err)
		}
	}
	return nil
}

// publishChannel returns a live channel, redialing at most once per ReconnectDelay
func (b *RabbitBroker) publishChannel() (*amqp.Channel, error) {
	if b.closed {
		return nil, ErrQueueClosed
	}
	if b.conn != nil && !b.conn.IsClosed() && b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}
	if time.Since(b.lastAttempt) < b.cfg.ReconnectDelay {
		return nil, fmt.Errorf("%w: not connected", ErrBrokerUnavailable)
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return b.pubCh, nil
}

// Publish sends job as a persistent JSON message and waits for the broker confirm
func (b *RabbitBroker) Publish(ctx context.Context, route Route, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, route.Exchange, route.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Type:         job.Type,
		Timestamp:    job.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrBrokerUnavailable, route, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublishTimeout, route, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker rejected publish to %s", ErrBrokerUnavailable, route)
	}
	return nil
}

// Consume opens a dedicated channel with the given prefetch. The returned
// channel closes when ctx ends or the connection drops.
func (b *RabbitBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.Lock()
	conn := b.conn
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return nil, ErrQueueClosed
	}
	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("%w: not connected", ErrBrokerUnavailable)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: open channel: %v", ErrBrokerUnavailable, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: qos: %v", ErrBrokerUnavailable, err)
	}
	tag := queue + "-" + uuid.NewString()
	msgs, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: consume %s: %v", ErrBrokerUnavailable, queue, err)
	}

	out := make(chan Delivery)
	go forward(ctx, ch, tag, msgs, out, b.cfg.SettleTimeout)
	return out, nil
}

// consumerChannel is what forward needs from *amqp.Channel
type consumerChannel interface {
	Cancel(consumer string, noWait bool) error
	Close() error
}

// forward hands deliveries to out until ctx ends or msgs closes. On the way
// out it stops new deliveries first, then waits for the delivery already
// handed out to be settled, and only then closes the channel: an ack on a
// closed channel is lost and the broker would redeliver the job.
func forward(ctx context.Context, ch consumerChannel, tag string, msgs <-chan amqp.Delivery, out chan<- Delivery, settleTimeout time.Duration) {
	var inflight sync.WaitGroup
	defer func() {
		close(out)

		settled := make(chan struct{})
		go func() {
			inflight.Wait()
			close(settled)
		}()
		select {
		case <-settled:
		case <-time.After(settleTimeout):
		}
		ch.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			ch.Cancel(tag, false)
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			inflight.Add(1)
			d := &rabbitDelivery{msg: msg, settled: inflight.Done}
			select {
			case out <- d:
			case <-ctx.Done():
				// never handed out; the broker redelivers it once the channel closes
				inflight.Done()
				ch.Cancel(tag, false)
				return
			}
		}
	}
}

// Close closes the connection
func (b *RabbitBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Health reports whether the connection is up
func (b *RabbitBroker) Health() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrQueueClosed
	}
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("%w: not connected", ErrBrokerUnavailable)
	}
	return nil
}

type rabbitDelivery struct {
	msg     amqp.Delivery
	settled func()
	once    sync.Once
}

func (d *rabbitDelivery) Body() []byte      { return d.msg.Body }
func (d *rabbitDelivery) MessageID() string { return d.msg.MessageId }

func (d *rabbitDelivery) Ack() error {
	defer d.once.Do(d.settled)
	return d.msg.Ack(false)
}

func (d *rabbitDelivery) Nack(requeue bool) error {
	defer d.once.Do(d.settled)
	return d.msg.Nack(false, requeue)
}
