package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is the envelope every message carries on the wire
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob wraps payload in an envelope with a fresh message id
func NewJob(jobType string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", jobType, err)
	}
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeJob parses an envelope
func DecodeJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedJob)
	}
	return &job, nil
}

// Decode unmarshals the payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedJob, j.Type, err)
	}
	return nil
}

// Publisher enqueues jobs
type Publisher interface {
	Publish(ctx context.Context, route Route, job *Job) error
}

// Delivery is one received message awaiting settlement
type Delivery interface {
	Body() []byte
	MessageID() string
	Ack() error
	Nack(requeue bool) error
}

// Consumer yields deliveries from a queue, at most prefetch unsettled at a time
type Consumer interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
}

// Broker is a connected publisher and consumer
type Broker interface {
	Publisher
	Consumer
	Close() error
	Health() error
}

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrQueueClosed       = errors.New("queue is closed")
	ErrUnknownRoute      = errors.New("no queue bound to route")
	ErrMalformedJob      = errors.New("malformed job")
	ErrPublishTimeout    = errors.New("publish timeout")
)
