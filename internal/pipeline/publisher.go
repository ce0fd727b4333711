// Package pipeline runs each inbound frame through decode, enrichment and
// publishing, with bounded concurrency and a bounded wait on the broker.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gelflistener/internal/broker"
	"gelflistener/internal/gelf"
)

// DefaultDeliveryTimeout bounds the wait for a broker acknowledgment.
const DefaultDeliveryTimeout = 5 * time.Second

// ErrPublishTimeout is wrapped into a PublishError when the broker did not
// acknowledge within the delivery timeout.
var ErrPublishTimeout = errors.New("broker acknowledgment timed out")

// PublishError stages.
const (
	StageSerialize = "serialize"
	StageProduce   = "produce"
)

type PublishError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher serializes messages and hands them to the broker as keyed
// records on a single topic.
type Publisher struct {
	producer broker.Producer
	topic    string
	timeout  time.Duration
	retries  int
}

// NewPublisher builds a Publisher. A non-positive timeout falls back to
// DefaultDeliveryTimeout; retries is clamped to 0 or 1.
//
// Retries make delivery at-least-once. When an attempt times out the broker
// client may still hold the record and deliver it later (franz-go keeps
// buffered records after ProduceSync gives up), so the retry can land a
// second record with the same key. Consumers dedupe on the key.
func NewPublisher(producer broker.Producer, topic string, timeout time.Duration, retries int) *Publisher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		timeout:  timeout,
		retries:  retries,
	}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish sends msg under key. Each attempt waits at most the delivery
// timeout; a failed attempt is retried once when retries allow it.
func (p *Publisher) Publish(ctx context.Context, key string, msg gelf.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &PublishError{Stage: StageSerialize, Err: err}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.retries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		attempts++
		lastErr = p.produce(ctx, key, payload)
		if lastErr == nil {
			return nil
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return &PublishError{Stage: StageProduce, Attempts: attempts, Err: lastErr}
}

func (p *Publisher) produce(ctx context.Context, key string, payload []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.producer.Produce(attemptCtx, p.topic, key, payload)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrPublishTimeout, p.timeout, err)
	}
	return err
}
