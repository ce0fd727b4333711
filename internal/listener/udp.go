package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/time/rate"

	"gelflistener/internal/pipeline"
)

// UDPListener treats every datagram as exactly one frame. GELF chunking is
// not reassembled.
type UDPListener struct {
	opts    Options
	submit  Submitter
	logger  *slog.Logger
	limiter *rate.Limiter // shared by all senders, nil when disabled
	conn    *net.UDPConn  // nil until Bind
	closing atomic.Bool
}

// NewUDPListener creates a new UDP listener without binding it
func NewUDPListener(opts Options, submit Submitter, logger *slog.Logger) *UDPListener {
	return &UDPListener{
		opts:    opts,
		submit:  submit,
		logger:  logger,
		limiter: newLimiter(opts.RateLimit, opts.RateBurst),
	}
}

// Bind resolves the address and opens the UDP socket
func (s *UDPListener) Bind() error {
	addr, err := net.ResolveUDPAddr("udp", s.opts.Addr)
	if err != nil {
		return &BindError{Protocol: ProtocolUDP, Addr: s.opts.Addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Protocol: ProtocolUDP, Addr: s.opts.Addr, Err: err}
	}
	s.conn = conn
	s.logger.Info("listener_started",
		"protocol", ProtocolUDP,
		"addr", conn.LocalAddr().String(),
	)
	return nil
}

// bound address, nil before Bind
func (s *UDPListener) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve receives datagrams until Stop. Receive errors are logged and do
// not end the loop.
func (s *UDPListener) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("udp listener not bound")
	}
	stop := context.AfterFunc(ctx, func() { s.Stop() }) // close the socket when ctx ends
	defer stop()

	buffer := make([]byte, maxDatagramSize) // large enough for any datagram
	for {
		n, addr, err := s.conn.ReadFromUDP(buffer) // block until a datagram arrives
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("receive_failed",
				"protocol", ProtocolUDP,
				"error", err.Error(),
			)
			continue
		}

		source := addr.String() // sender address at receive time
		if n > s.opts.MaxFrameSize {
			pipeline.RecordDrop(ProtocolUDP, pipeline.DropTooLarge)
			s.logger.Warn("message_too_large",
				"source", source,
				"size", n,
				"max_size", s.opts.MaxFrameSize,
			)
			continue
		}
		if s.limiter != nil && !s.limiter.Allow() {
			pipeline.RecordDrop(ProtocolUDP, pipeline.DropRateLimited)
			s.logger.Warn("rate_limit_exceeded", "source", source)
			continue
		}

		// copy out of the shared receive buffer
		frame := make([]byte, n)
		copy(frame, buffer[:n])

		submitFrame(ctx, s.submit, s.logger, pipeline.Frame{
			Data:     frame,
			Source:   source,
			Protocol: ProtocolUDP,
		})
	}
}

// Stop closes the socket, which ends Serve.
func (s *UDPListener) Stop() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.logger.Info("listener_stopped", "protocol", ProtocolUDP)
	return err
}
