package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestNew_UnsupportedKind(t *testing.T) {
	p, err := New(context.Background(), "rabbitmq", "localhost:5672", "gelf")
	assert.Nil(t, p)
	assert.Error(t, err)
	assert.False(t, IsKind("rabbitmq"))
	assert.True(t, IsKind(KindKafka))
	assert.True(t, IsKind(KindRedis))
	assert.True(t, IsKind(KindNATS))
}

func TestNewKafkaProducer_NoSeeds(t *testing.T) {
	p, err := NewKafkaProducer(" , ")
	assert.Nil(t, p)
	assert.Error(t, err)
}

func TestNewKafkaProducer_Lazy(t *testing.T) {
	// kgo does not dial until the first produce
	p, err := NewKafkaProducer("127.0.0.1:1,127.0.0.1:2")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestKafkaProducer_UnreachableRespectsContext(t *testing.T) {
	p, err := NewKafkaProducer("127.0.0.1:1")
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = p.Produce(ctx, "gelf", "k", []byte(`{}`))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "GELF_MESSAGES", StreamName("gelf_messages"))
	assert.Equal(t, "LOGS_APP_PROD", StreamName("logs.app.prod"))
	assert.Equal(t, "LOGS__", StreamName("logs.*"))
}

func TestRedisProducer_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()

	p, err := NewRedisProducer(ctx, addr)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	defer p.Close()

	stream := "gelf_listener_test_" + time.Now().Format("150405.000000")
	defer p.client.Del(ctx, stream)

	require.NoError(t, p.Produce(ctx, stream, "key-1", []byte(`{"a":1}`)))

	entries, err := p.client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "key-1", entries[0].Values[RedisKeyField])
	assert.Equal(t, `{"a":1}`, entries[0].Values[RedisPayloadField])
}

func TestRedisProducer_BadURL(t *testing.T) {
	_, err := NewRedisProducer(context.Background(), "redis://:bad@[::1")
	assert.Error(t, err)
}

func TestKafkaProducer_Integration(t *testing.T) {
	brokers := os.Getenv("KAFKA_TEST_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_TEST_BROKERS not set")
	}
	topic := "gelf-listener-test"

	p, err := NewKafkaProducer(brokers)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.Produce(ctx, topic, "key-1", []byte(`{"a":1}`)))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(brokers),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var found bool
	for !found && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == "key-1" {
				found = true
			}
		})
	}
	assert.True(t, found)
}

func TestNATSProducer_Integration(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	ctx := context.Background()

	p, err := NewNATSProducer(ctx, url, "gelf.test")
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Produce(ctx, "gelf.test", "key-1", []byte(`{"a":1}`)))
	// same key is deduplicated by the stream, not rejected
	require.NoError(t, p.Produce(ctx, "gelf.test", "key-1", []byte(`{"a":1}`)))
}
