// Package broker holds the clients that carry enriched GELF messages to
// the downstream message broker.
package broker

import (
	"context"
	"fmt"
)

// Supported broker kinds.
const (
	KindKafka = "kafka"
	KindRedis = "redis"
	KindNATS  = "nats"
)

// Producer submits keyed records to a topic. Implementations are safe for
// concurrent use; a single instance is shared by every in-flight message.
type Producer interface {
	// Produce blocks until the broker acknowledges the record or ctx ends.
	Produce(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// New connects a producer of the given kind to addr. topic is used by
// backends that need to prepare a destination up front.
func New(ctx context.Context, kind, addr, topic string) (Producer, error) {
	switch kind {
	case KindKafka:
		return NewKafkaProducer(addr)
	case KindRedis:
		return NewRedisProducer(ctx, addr)
	case KindNATS:
		return NewNATSProducer(ctx, addr, topic)
	default:
		return nil, fmt.Errorf("unsupported broker kind %q", kind)
	}
}

// IsKind reports whether kind names a supported broker.
func IsKind(kind string) bool {
	switch kind {
	case KindKafka, KindRedis, KindNATS:
		return true
	}
	return false
}
