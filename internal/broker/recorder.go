package broker

import (
	"context"
	"sync"
	"time"
)

// Record is one message captured by Recorder.
type Record struct {
	Topic string
	Key   string
	Value []byte
}

// Recorder is an in-memory Producer. It keeps every record it accepts and
// can be told to fail or stall, which makes it the producer of choice for
// exercising listeners without a broker.
type Recorder struct {
	mu      sync.Mutex
	records []Record
	calls   int
	closed  bool

	// Delay stalls each Produce call; ctx expiry wins.
	Delay time.Duration
	// FailFirst makes the first N calls return Err.
	FailFirst int
	Err       error

	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Produce(ctx context.Context, topic, key string, value []byte) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			r.mu.Lock()
			r.calls++
			r.mu.Unlock()
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.calls++
	if r.calls <= r.FailFirst {
		err := r.Err
		r.mu.Unlock()
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	r.records = append(r.records, Record{Topic: topic, Key: key, Value: v})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Records returns a copy of everything accepted so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Calls counts Produce invocations, failed ones included.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// WaitFor blocks until at least n records were accepted or timeout passes.
func (r *Recorder) WaitFor(n int, timeout time.Duration) []Record {
	deadline := time.After(timeout)
	for {
		if recs := r.Records(); len(recs) >= n {
			return recs
		}
		select {
		case <-r.notify:
		case <-deadline:
			return r.Records()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
