package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaProducer publishes records with franz-go.
type KafkaProducer struct {
	client *kgo.Client
}

// NewKafkaProducer creates a client for a comma-separated seed broker list.
// No connection is made until the first record is produced.
func NewKafkaProducer(brokers string) (*KafkaProducer, error) {
	seeds := make([]string, 0, 1)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			seeds = append(seeds, b)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers in %q", brokers)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ClientID("gelf-listener"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create client: %w", err)
	}
	return &KafkaProducer{client: client}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes nothing; callers wait for their own ProduceSync calls.
func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}
