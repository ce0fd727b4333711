package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gelflistener/internal/broker"
	"gelflistener/internal/config"
	"gelflistener/internal/listener"
	"gelflistener/internal/pipeline"
)

// serve wires broker, pipeline and listener together and blocks until ctx
// ends. A nil producer is built from cfg. ready, if set, receives the bound
// listener address.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, producer broker.Producer, ready func(net.Addr)) error {
	if producer == nil {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := broker.New(connectCtx, cfg.BrokerKind, cfg.Broker, cfg.Topic)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create %s producer: %w", cfg.BrokerKind, err)
		}
		producer = p
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("producer_close_failed", "error", err.Error())
		}
		logger.Info("producer_closed")
	}()

	publisher := pipeline.NewPublisher(producer, cfg.Topic, cfg.DeliveryTimeout, cfg.PublishRetries)
	dispatcher := pipeline.NewDispatcher(publisher, logger, pipeline.Options{
		MaxInFlight:      int64(cfg.MaxInFlight),
		AdmissionTimeout: cfg.AdmissionTimeout,
		MaxMessageSize:   cfg.MaxMessageSize,
		Verbose:          cfg.Verbose,
	})
	// at most one retry, so this covers every admitted publish
	grace := time.Duration(cfg.PublishRetries+1)*cfg.DeliveryTimeout + time.Second
	defer dispatcher.Stop(grace)

	l, err := listener.New(cfg.Protocol, listener.OptionsFromConfig(cfg), dispatcher, logger)
	if err != nil {
		return err
	}
	if err := l.Bind(); err != nil {
		return err
	}

	logger.Info("gelf_listener_started",
		"protocol", cfg.Protocol,
		"listen", l.Addr().String(),
		"broker_kind", cfg.BrokerKind,
		"broker", cfg.Broker,
		"topic", cfg.Topic,
	)

	if cfg.MetricsListen != "" {
		metrics, err := startMetrics(cfg.MetricsListen, logger)
		if err != nil {
			l.Stop()
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(shutdownCtx)
		}()
	}

	if ready != nil {
		ready(l.Addr())
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- l.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received_shutdown_signal")
		l.Stop()
		<-errChan
	case err := <-errChan:
		if err != nil {
			return err
		}
	}
	logger.Info("listener_stopped_gracefully")
	return nil
}

// startMetrics serves the prometheus registry on addr.
func startMetrics(addr string, logger *slog.Logger) (*http.Server, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics endpoint on %s: %w", addr, err)
	}
	server := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err.Error())
		}
	}()
	logger.Info("metrics_endpoint_started", "addr", ln.Addr().String())
	return server, nil
}
