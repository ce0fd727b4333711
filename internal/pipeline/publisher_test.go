package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gelflistener/internal/broker"
	"gelflistener/internal/gelf"
)

func TestPublisher_PublishesKeyedRecord(t *testing.T) {
	rec := broker.NewRecorder()
	p := NewPublisher(rec, "gelf_messages", time.Second, 0)

	msg := gelf.Message{"host": "h", "short_message": "hi"}
	require.NoError(t, p.Publish(context.Background(), "key-1", msg))

	recs := rec.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "gelf_messages", recs[0].Topic)
	assert.Equal(t, "key-1", recs[0].Key)
	assert.JSONEq(t, `{"host":"h","short_message":"hi"}`, string(recs[0].Value))
}

func TestPublisher_Timeout(t *testing.T) {
	rec := broker.NewRecorder()
	rec.Delay = 500 * time.Millisecond
	p := NewPublisher(rec, "t", 20*time.Millisecond, 0)

	start := time.Now()
	err := p.Publish(context.Background(), "k", gelf.Message{"a": 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	var perr *PublishError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StageProduce, perr.Stage)
	assert.Equal(t, 1, perr.Attempts)
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_SingleRetry(t *testing.T) {
	rec := broker.NewRecorder()
	rec.FailFirst = 1
	rec.Err = errors.New("leader not available")
	p := NewPublisher(rec, "t", time.Second, 1)

	require.NoError(t, p.Publish(context.Background(), "k", gelf.Message{"a": 1}))
	assert.Equal(t, 2, rec.Calls())
	assert.Len(t, rec.Records(), 1)
}

func TestPublisher_RetriesAreCapped(t *testing.T) {
	boom := errors.New("boom")
	rec := broker.NewRecorder()
	rec.FailFirst = 5
	rec.Err = boom
	p := NewPublisher(rec, "t", time.Second, 10)

	err := p.Publish(context.Background(), "k", gelf.Message{"a": 1})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrPublishTimeout)
	assert.Equal(t, 2, rec.Calls())

	var perr *PublishError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 2, perr.Attempts)
}

func TestPublisher_SerializeFailure(t *testing.T) {
	rec := broker.NewRecorder()
	p := NewPublisher(rec, "t", time.Second, 1)

	err := p.Publish(context.Background(), "k", gelf.Message{"bad": make(chan int)})

	var perr *PublishError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StageSerialize, perr.Stage)
	var jerr *json.UnsupportedTypeError
	assert.True(t, errors.As(err, &jerr))
	assert.Zero(t, rec.Calls())
}

func TestPublisher_CancelledContext(t *testing.T) {
	rec := broker.NewRecorder()
	p := NewPublisher(rec, "t", time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, "k", gelf.Message{"a": 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, rec.Calls())
}

func TestNewPublisher_DefaultTimeout(t *testing.T) {
	p := NewPublisher(broker.NewRecorder(), "t", 0, -1)
	assert.Equal(t, DefaultDeliveryTimeout, p.timeout)
	assert.Equal(t, 0, p.retries)
	assert.Equal(t, "t", p.Topic())
}

// lateProducer gives up waiting on the first call but still keeps the
// record, the way a buffering client delivers after the caller timed out.
type lateProducer struct {
	mu   sync.Mutex
	keys []string
}

func (p *lateProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	p.keys = append(p.keys, key)
	first := len(p.keys) == 1
	p.mu.Unlock()
	if first {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *lateProducer) Close() error { return nil }

func TestPublisher_RetryAfterTimeoutIsAtLeastOnce(t *testing.T) {
	producer := &lateProducer{}
	p := NewPublisher(producer, "t", 20*time.Millisecond, 1)

	require.NoError(t, p.Publish(context.Background(), "key-1", gelf.Message{"a": 1}))

	// both attempts carry the same key so downstream can dedupe
	assert.Equal(t, []string{"key-1", "key-1"}, producer.keys)
}

func TestPublisher_NoRetryMeansOneAttempt(t *testing.T) {
	producer := &lateProducer{}
	p := NewPublisher(producer, "t", 20*time.Millisecond, 0)

	err := p.Publish(context.Background(), "key-1", gelf.Message{"a": 1})
	assert.ErrorIs(t, err, ErrPublishTimeout)
	assert.Len(t, producer.keys, 1)
}
