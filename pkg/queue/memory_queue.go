package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryBroker is an in-process broker with the same routing, prefetch and
// ack/nack semantics as the AMQP topology. Used by tests and single-process runs.
type MemoryBroker struct {
	config  *MemoryBrokerConfig
	mu      sync.RWMutex
	queues  map[string]*memoryQueue
	closed  bool
	failErr error
}

type memoryQueue struct {
	name     string
	messages chan []byte
	mu       sync.Mutex
	dropped  [][]byte
	acked    int
}

// MemoryBrokerConfig memory broker configuration
type MemoryBrokerConfig struct {
	BufferSize int           `json:"buffer_size"`
	Timeout    time.Duration `json:"timeout"`
}

// NewMemoryBroker creates a broker with every topology queue declared
func NewMemoryBroker(config *MemoryBrokerConfig) *MemoryBroker {
	if config == nil {
		config = &MemoryBrokerConfig{
			BufferSize: 1000,
			Timeout:    5 * time.Second,
		}
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	b := &MemoryBroker{
		config: config,
		queues: make(map[string]*memoryQueue),
	}
	for _, binding := range Topology {
		b.queues[binding.Queue] = &memoryQueue{
			name:     binding.Queue,
			messages: make(chan []byte, config.BufferSize),
		}
	}
	return b
}

// FailPublishes makes every Publish return err until called with nil
func (b *MemoryBroker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Publish routes job to its bound queue
func (b *MemoryBroker) Publish(ctx context.Context, route Route, job *Job) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrQueueClosed
	}
	if b.failErr != nil {
		return b.failErr
	}

	name, ok := QueueFor(route)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	select {
	case b.queues[name].messages <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.config.Timeout):
		return ErrPublishTimeout
	}
}

// Consume delivers messages from queue, holding back the next one until
// prefetch deliveries are settled.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrQueueClosed
	}
	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, queue)
	}
	if prefetch < 1 {
		prefetch = 1
	}

	out := make(chan Delivery)
	inflight := make(chan struct{}, prefetch)
	go func() {
		defer close(out)
		for {
			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}

			select {
			case body, ok := <-q.messages:
				if !ok {
					return
				}
				d := &memoryDelivery{queue: q, body: body, release: func() { <-inflight }}
				select {
				case out <- d:
				case <-ctx.Done():
					q.requeue(body)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len returns the number of ready messages in queue
func (b *MemoryBroker) Len(queue string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.messages)
	}
	return 0
}

// Drain removes and decodes every ready message in queue
func (b *MemoryBroker) Drain(queue string) []*Job {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	var jobs []*Job
	for {
		select {
		case body := <-q.messages:
			if job, err := DecodeJob(body); err == nil {
				jobs = append(jobs, job)
			}
		default:
			return jobs
		}
	}
}

// Dropped returns bodies that were nacked without requeue
func (b *MemoryBroker) Dropped(queue string) [][]byte {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.dropped...)
}

// Acked returns how many deliveries from queue were acknowledged
func (b *MemoryBroker) Acked(queue string) int {
	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

// Close stops accepting publishes
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Health checks the broker is open
func (b *MemoryBroker) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *memoryQueue) requeue(body []byte) {
	select {
	case q.messages <- body:
	default:
		q.mu.Lock()
		q.dropped = append(q.dropped, body)
		q.mu.Unlock()
	}
}

type memoryDelivery struct {
	queue   *memoryQueue
	body    []byte
	once    sync.Once
	release func()
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) MessageID() string {
	if job, err := DecodeJob(d.body); err == nil {
		return job.ID
	}
	return ""
}

func (d *memoryDelivery) Ack() error {
	d.once.Do(func() {
		d.queue.mu.Lock()
		d.queue.acked++
		d.queue.mu.Unlock()
		d.release()
	})
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	d.once.Do(func() {
		if requeue {
			d.queue.requeue(d.body)
		} else {
			d.queue.mu.Lock()
			d.queue.dropped = append(d.queue.dropped, d.body)
			d.queue.mu.Unlock()
		}
		d.release()
	})
	return nil
}
