package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gelflistener/internal/pipeline"
)

// TCPListener accepts stream connections. Every successful read on a
// connection is one frame: a GELF message must arrive in a single read of
// at most MaxFrameSize bytes and must not span reads. Nothing is
// reassembled and no delimiter is expected.
type TCPListener struct {
	opts     Options            // listen address, frame size, timeouts and rate limits
	submit   Submitter          // where every frame goes, normally the dispatcher
	logger   *slog.Logger       // structured logger for listener events
	Manager  *ConnectionManager // registry of live client connections
	listener net.Listener       // nil until Bind
	closing  atomic.Bool        // set once by Stop
	mu       sync.Mutex         // orders wg.Add against Stop
	wg       sync.WaitGroup     // one per connection goroutine
}

// constructor for TCPListener, nothing is bound yet
func NewTCPListener(opts Options, submit Submitter, logger *slog.Logger) *TCPListener {
	return &TCPListener{
		opts:    opts,
		submit:  submit,
		logger:  logger,
		Manager: NewConnectionManager(logger),
	}
}

// Bind opens the TCP socket on the configured address
func (s *TCPListener) Bind() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return &BindError{Protocol: ProtocolTCP, Addr: s.opts.Addr, Err: err}
	}
	s.listener = listener
	s.logger.Info("listener_started",
		"protocol", ProtocolTCP,
		"addr", listener.Addr().String(),
	)
	return nil
}

// bound address, nil before Bind
func (s *TCPListener) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Stop. Accept errors are logged and the
// loop carries on after a short backoff.
func (s *TCPListener) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("tcp listener not bound")
	}
	stop := context.AfterFunc(ctx, func() { s.Stop() }) // stop accepting when ctx ends
	defer stop()

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept() // block until a new client connects
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Error("accept_failed",
				"protocol", ProtocolTCP,
				"error", err.Error(),
				"retry_in", backoff,
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0 // reset after a good accept

		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go func(conn net.Conn) { // handle each client in its own goroutine
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}(conn)
	}
}

// doubles the accept retry delay from 5ms up to 1s
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// register the client, run its read loop, then unregister it
func (s *TCPListener) handleConnection(ctx context.Context, conn net.Conn) {
	client := NewClientConnection(conn, s, s.opts)
	s.Manager.AddConnection(client) // register client in the connection manager
	if s.closing.Load() {
		// registered after CloseAllConnections ran
		client.Close()
	}
	client.Listen(ctx)                 // blocks until the client goes away
	s.Manager.RemoveConnection(client) // cleanup after disconnect
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines. Frames already submitted keep running.
func (s *TCPListener) Stop() error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		return nil
	}
	s.closing.Store(true)
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.Manager.CloseAllConnections()
	s.wg.Wait()
	s.logger.Info("listener_stopped", "protocol", ProtocolTCP)
	return err
}

// ClientConnection is one accepted stream.
type ClientConnection struct {
	ID      string        // unique connection ID (uuid)
	conn    net.Conn      // underlying TCP connection
	server  *TCPListener  // back reference for logger, submitter and shutdown state
	Limiter *rate.Limiter // per connection rate limiter, nil when disabled
	opts    Options
}

// constructor for ClientConnection
func NewClientConnection(conn net.Conn, server *TCPListener, opts Options) *ClientConnection {
	return &ClientConnection{
		ID:      uuid.NewString(),
		conn:    conn,
		server:  server,
		Limiter: newLimiter(opts.RateLimit, opts.RateBurst),
		opts:    opts,
	}
}

// peer address in host:port form, used as the message source
func (c *ClientConnection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Listen reads frames until the peer closes, a read fails or the idle
// timeout passes.
func (c *ClientConnection) Listen(ctx context.Context) {
	defer c.conn.Close() // ensure connection is closed on exit
	logger := c.server.logger
	source := c.RemoteAddr()
	buffer := make([]byte, c.opts.MaxFrameSize) // one read is one frame

	logger.Debug("client_started_listening",
		"client_id", c.ID,
		"remote_addr", source,
	)

	for {
		if c.opts.ReadTimeout > 0 { // idle clients are dropped after ReadTimeout
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}

		n, err := c.conn.Read(buffer)
		if n > 0 { // a read may return data together with an error
			c.handleFrame(ctx, buffer[:n], source)
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			logger.Debug("client_disconnected", "client_id", c.ID)
		case isTimeout(err):
			logger.Warn("client_read_timeout", "client_id", c.ID, "remote_addr", source)
		case errors.Is(err, net.ErrClosed) || c.server.closing.Load():
			// shutdown closed the socket under us
		default:
			logger.Error("client_read_error",
				"client_id", c.ID,
				"remote_addr", source,
				"error", err.Error(),
			)
		}
		return
	}
}

func (c *ClientConnection) handleFrame(ctx context.Context, data []byte, source string) {
	if c.Limiter != nil && !c.Limiter.Allow() {
		pipeline.RecordDrop(ProtocolTCP, pipeline.DropRateLimited)
		c.server.logger.Warn("rate_limit_exceeded",
			"client_id", c.ID,
			"remote_addr", source,
		)
		return
	}

	// the read buffer is reused, so the frame gets its own copy
	frame := make([]byte, len(data))
	copy(frame, data)

	submitFrame(ctx, c.server.submit, c.server.logger, pipeline.Frame{
		Data:     frame,
		Source:   source,
		Protocol: ProtocolTCP,
	})
}

// method to close the client connection
func (c *ClientConnection) Close() {
	c.conn.Close()
}

// reports whether err is a read deadline expiry
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
