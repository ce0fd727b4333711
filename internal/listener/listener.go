// Package listener accepts GELF frames over TCP, UDP or HTTP and hands each
// one to the pipeline.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"gelflistener/internal/config"
	"gelflistener/internal/pipeline"
)

// Supported protocols.
const (
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
	ProtocolHTTP = "http"
)

// DefaultMaxFrameSize is the read buffer size for stream connections.
const DefaultMaxFrameSize = 64 * 1024

// maxDatagramSize is large enough for any UDP payload.
const maxDatagramSize = 64 * 1024

var ErrUnknownProtocol = errors.New("unsupported listener type")

// BindError means the listener could not take its address. It is fatal.
type BindError struct {
	Protocol string
	Addr     string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s listener on %s: %v", e.Protocol, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Submitter receives frames. *pipeline.Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, f pipeline.Frame) error
}

// Listener is one transport front end.
type Listener interface {
	// Bind claims the address; failures are *BindError.
	Bind() error
	// Serve runs the accept or receive loop until Stop or ctx ends.
	Serve(ctx context.Context) error
	// Addr is the bound address, nil before Bind.
	Addr() net.Addr
	Stop() error
}

// Options are the listener settings taken from configuration.
type Options struct {
	Addr         string
	HTTPPath     string
	MaxFrameSize int
	ReadTimeout  time.Duration
	RateLimit    float64
	RateBurst    int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:         cfg.ListenAddr,
		HTTPPath:     cfg.HTTPPath,
		MaxFrameSize: cfg.MaxFrameSize,
		ReadTimeout:  cfg.ReadTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}
}

// ParseProtocol checks name against the supported protocols.
func ParseProtocol(name string) (string, error) {
	switch name {
	case ProtocolTCP, ProtocolUDP, ProtocolHTTP:
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProtocol, name)
}

// New builds the listener for protocol without binding it.
func New(protocol string, opts Options, submit Submitter, logger *slog.Logger) (Listener, error) {
	if _, err := ParseProtocol(protocol); err != nil {
		return nil, err
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.HTTPPath == "" {
		opts.HTTPPath = "/gelf"
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch protocol {
	case ProtocolUDP:
		return NewUDPListener(opts, submit, logger), nil
	case ProtocolHTTP:
		return NewHTTPListener(opts, submit, logger), nil
	default:
		return NewTCPListener(opts, submit, logger), nil
	}
}

// newLimiter returns nil when rate limiting is off.
func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = int(limit)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// submitFrame hands f to the pipeline and logs rejections the dispatcher
// did not already report.
func submitFrame(ctx context.Context, submit Submitter, logger *slog.Logger, f pipeline.Frame) error {
	err := submit.Submit(ctx, f)
	if err != nil && !errors.Is(err, pipeline.ErrSaturated) {
		logger.Debug("frame_rejected",
			"protocol", f.Protocol,
			"source", f.Source,
			"error", err.Error(),
		)
	}
	return err
}
