package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KeyHeader carries the correlation key on NATS messages.
const KeyHeader = "Gelf-Listener-Key"

// NATSProducer publishes to a JetStream stream bound to the topic subject.
type NATSProducer struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSProducer connects to url and makes sure a stream captures topic.
func NewNATSProducer(ctx context.Context, url, topic string) (*NATSProducer, error) {
	conn, err := nats.Connect(url,
		nats.Name("gelf-listener"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to init JetStream: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:     StreamName(topic),
		Subjects: []string{topic},
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream for %s: %w", topic, err)
	}

	return &NATSProducer{conn: conn, js: js}, nil
}

// StreamName derives a valid JetStream stream name from a subject.
func StreamName(topic string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "/", "_", "\\", "_")
	return strings.ToUpper(r.Replace(topic))
}

func (p *NATSProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	msg := nats.NewMsg(topic)
	msg.Data = value
	msg.Header.Set(KeyHeader, key)

	if _, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(key)); err != nil {
		return fmt.Errorf("nats publish to %s: %w", topic, err)
	}
	return nil
}

func (p *NATSProducer) Close() error {
	return p.conn.Drain()
}
