package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"gelflistener/internal/pipeline"
)

const httpShutdownGracePeriod = 5 * time.Second

// HTTPListener accepts GELF frames as POST bodies. The response only says
// the frame was admitted; publishing happens after the reply is sent.
type HTTPListener struct {
	opts     Options
	submit   Submitter
	logger   *slog.Logger
	limiter  *rate.Limiter
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

func NewHTTPListener(opts Options, submit Submitter, logger *slog.Logger) *HTTPListener {
	gin.SetMode(gin.ReleaseMode)

	l := &HTTPListener{
		opts:    opts,
		submit:  submit,
		logger:  logger,
		limiter: newLimiter(opts.RateLimit, opts.RateBurst),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(l.requestLogger())

	r.POST(opts.HTTPPath, l.handleGelf)
	r.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	l.engine = r
	l.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return l
}

// Handler exposes the router, mainly for httptest.
func (l *HTTPListener) Handler() http.Handler {
	return l.engine
}

func (l *HTTPListener) Bind() error {
	listener, err := net.Listen("tcp", l.opts.Addr)
	if err != nil {
		return &BindError{Protocol: ProtocolHTTP, Addr: l.opts.Addr, Err: err}
	}
	l.listener = listener
	l.logger.Info("listener_started",
		"protocol", ProtocolHTTP,
		"addr", listener.Addr().String(),
		"path", l.opts.HTTPPath,
	)
	return nil
}

func (l *HTTPListener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *HTTPListener) Serve(ctx context.Context) error {
	if l.listener == nil {
		return errors.New("http listener not bound")
	}
	stop := context.AfterFunc(ctx, func() { l.Stop() })
	defer stop()

	err := l.server.Serve(l.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop lets in-progress requests finish for a few seconds.
func (l *HTTPListener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownGracePeriod)
		defer cancel()
		err = l.server.Shutdown(ctx)
		l.logger.Info("listener_stopped", "protocol", ProtocolHTTP)
	})
	return err
}

func (l *HTTPListener) handleGelf(ctx *gin.Context) {
	source := ctx.Request.RemoteAddr

	if l.limiter != nil && !l.limiter.Allow() {
		pipeline.RecordDrop(ProtocolHTTP, pipeline.DropRateLimited)
		l.logger.Warn("rate_limit_exceeded", "source", source)
		ctx.String(http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, int64(l.opts.MaxFrameSize))
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			pipeline.RecordDrop(ProtocolHTTP, pipeline.DropTooLarge)
			l.logger.Warn("message_too_large",
				"source", source,
				"max_size", l.opts.MaxFrameSize,
			)
			ctx.String(http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		l.logger.Warn("request_body_read_failed",
			"source", source,
			"error", err.Error(),
		)
		ctx.String(http.StatusBadRequest, "Unreadable body")
		return
	}

	err = submitFrame(ctx.Request.Context(), l.submit, l.logger, pipeline.Frame{
		Data:     data,
		Source:   source,
		Protocol: ProtocolHTTP,
	})
	if err != nil {
		ctx.String(http.StatusServiceUnavailable, "Busy")
		return
	}
	ctx.String(http.StatusOK, "Received")
}

func (l *HTTPListener) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		l.logger.Debug("http_request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", ctx.Writer.Status(),
			"remote_addr", ctx.Request.RemoteAddr,
			"duration", time.Since(start),
		)
	}
}
