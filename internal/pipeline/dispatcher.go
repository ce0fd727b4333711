package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"gelflistener/internal/gelf"
)

// Defaults for dispatcher admission control.
const (
	DefaultMaxInFlight      = 1024
	DefaultAdmissionTimeout = time.Second
)

// ErrSaturated is returned by Submit when no slot freed up in time.
var ErrSaturated = errors.New("dispatcher saturated, frame dropped")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Frame is one unit of inbound data: a stream read, a datagram or a
// request body. Data must not be reused by the caller after Submit.
type Frame struct {
	Data     []byte
	Source   string
	Protocol string
}

// Options tunes a Dispatcher.
type Options struct {
	MaxInFlight      int64
	AdmissionTimeout time.Duration
	// MaxMessageSize caps how far a gzip frame may inflate. Zero means
	// gelf.MaxMessageSize.
	MaxMessageSize int
	// Verbose logs one line per published message.
	Verbose bool
	// OnError receives every per-frame failure. Defaults to logging.
	OnError func(f Frame, key string, err error)
}

// Dispatcher runs admitted frames concurrently through decode, enrich and
// publish. In-flight work is capped by a weighted semaphore.
type Dispatcher struct {
	publisher *Publisher
	logger    *slog.Logger
	opts      Options
	sem       *semaphore.Weighted

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	baseCtx  context.Context
	cancelFn context.CancelFunc
}

func NewDispatcher(publisher *Publisher, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if logger == nil {
		logger = slog.Default()
	}
	// tasks outlive the request or connection that produced them
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		sem:       semaphore.NewWeighted(opts.MaxInFlight),
		baseCtx:   ctx,
		cancelFn:  cancel,
	}
	if d.opts.OnError == nil {
		d.opts.OnError = d.logFailure
	}
	return d
}

// Submit admits f and processes it on its own goroutine. It waits up to
// AdmissionTimeout for a free slot (zero means don't wait) and never waits
// on the broker.
func (d *Dispatcher) Submit(ctx context.Context, f Frame) error {
	// held until wg.Add so Stop never waits on a group that is still growing
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	framesReceived.WithLabelValues(f.Protocol).Inc()
	bytesReceived.WithLabelValues(f.Protocol).Add(float64(len(f.Data)))

	if !d.acquire(ctx) {
		RecordDrop(f.Protocol, DropSaturated)
		d.logger.Warn("frame_dropped",
			"protocol", f.Protocol,
			"source", f.Source,
			"reason", DropSaturated,
		)
		return ErrSaturated
	}

	d.wg.Add(1)
	inFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer inFlight.Dec()
		defer d.sem.Release(1)

		key, err := d.Process(d.baseCtx, f)
		if err != nil {
			d.opts.OnError(f, key, err)
		}
	}()
	return nil
}

func (d *Dispatcher) acquire(ctx context.Context) bool {
	if d.opts.AdmissionTimeout <= 0 {
		return d.sem.TryAcquire(1)
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.AdmissionTimeout)
	defer cancel()
	return d.sem.Acquire(actx, 1) == nil
}

// Process decodes, enriches and publishes f on the calling goroutine. The
// returned key is empty when decoding failed.
func (d *Dispatcher) Process(ctx context.Context, f Frame) (string, error) {
	msg, err := gelf.DecodeLimit(f.Data, d.opts.MaxMessageSize)
	if err != nil {
		return "", err
	}

	key := gelf.Enrich(msg, f.Source)

	if err := d.publisher.Publish(ctx, key, msg); err != nil {
		return key, err
	}

	published.WithLabelValues(f.Protocol).Inc()
	if d.opts.Verbose {
		d.logger.Info("message_published",
			"key", key,
			"protocol", f.Protocol,
			"topic", d.publisher.Topic(),
		)
	} else {
		d.logger.Debug("message_published",
			"key", key,
			"protocol", f.Protocol,
		)
	}
	return key, nil
}

// logFailure is the default error sink.
func (d *Dispatcher) logFailure(f Frame, key string, err error) {
	var decodeErr *gelf.DecodeError
	if errors.As(err, &decodeErr) {
		decodeErrors.WithLabelValues(f.Protocol, decodeErr.Stage).Inc()
		d.logger.Warn("frame_decode_failed",
			"protocol", f.Protocol,
			"source", f.Source,
			"stage", decodeErr.Stage,
			"size", len(f.Data),
			"error", err.Error(),
		)
		return
	}

	publishErrors.WithLabelValues(f.Protocol).Inc()
	d.logger.Error("message_publish_failed",
		"key", key,
		"protocol", f.Protocol,
		"source", f.Source,
		"timeout", errors.Is(err, ErrPublishTimeout),
		"error", err.Error(),
	)
}

// Wait blocks until every admitted frame has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop refuses new frames and waits for in-flight ones up to grace, after
// which their publishes are cancelled.
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("dispatcher_stop_grace_expired")
		d.cancelFn()
		<-done
	}
	d.cancelFn()
	d.logger.Info("dispatcher_stopped")
}
