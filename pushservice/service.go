// Package pushservice assembles the dispatch service: HTTP surface,
// Pub/Sub ingestion and the shared engine behind both.
package pushservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch/internal/queue"
	"github.com/tinywideclouds/go-push-dispatch/pkg/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

type Service struct {
	echo        *echo.Echo
	cfg         *config.Config
	consumer    *ingest.Consumer
	queueClient *queue.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
	ready       atomic.Bool

	consumerDone chan error
	consumerStop context.CancelFunc
}

// New wires the HTTP surface and the optional ingestion consumer around an
// assembled engine. The consumer may be nil for HTTP-only deployments.
func New(
	cfg *config.Config,
	eng *engine.Engine,
	registry push.TokenRegistry,
	consumer *ingest.Consumer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	if len(cfg.CorsAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CorsAllowedOrigins,
		}))
	}

	s := &Service{
		echo:     e,
		cfg:      cfg,
		consumer: consumer,
		metrics:  m,
		logger:   logger.With("component", "PushService"),
	}

	a := api.New(eng, registry, logger)
	if cfg.Queue.Enabled {
		s.queueClient = queue.NewClient(cfg.Redis.Addr, cfg.Redis.Password, logger)
		a.WithQueue(s.queueClient)
		logger.Info("Broadcasts will be queued for background workers.", "redis_addr", cfg.Redis.Addr)
	}
	a.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/readyz", func(c echo.Context) error {
		if !s.ready.Load() {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}

	return s
}

// LoggingSink returns an event sink that writes engine events through the
// service logger. Install it on the engine next to the metrics sink.
func LoggingSink(logger *slog.Logger) push.EventSink {
	return func(ev push.Event) {
		switch ev.Type {
		case push.EventChunkFailed:
			logger.Warn("chunk delivery failed",
				"recipient_id", ev.RecipientID, "topic", ev.Topic, "chunk_size", ev.ChunkSize, "err", ev.Err)
		case push.EventTokenInvalidated:
			if ev.Err != nil {
				logger.Warn("failed to deactivate invalid token", "token", ev.Token, "err", ev.Err)
				return
			}
			logger.Info("invalid token deactivated", "token", ev.Token)
		case push.EventDispatchDone:
			logger.Info("dispatch done",
				"recipient_id", ev.RecipientID,
				"topic", ev.Topic,
				"attempted", ev.Result.Attempted,
				"delivered", ev.Result.Delivered,
				"invalid", len(ev.Result.InvalidTokens),
				"failures", len(ev.Result.Failures),
				"cancelled", ev.Result.Cancelled,
			)
		}
	}
}

// Handler exposes the assembled HTTP handler, mainly for tests.
func (s *Service) Handler() http.Handler {
	return s.echo
}

// Start runs the ingestion consumer (when configured) and blocks serving
// HTTP until Shutdown.
func (s *Service) Start(ctx context.Context) error {
	if s.consumer != nil {
		consumerCtx, cancel := context.WithCancel(ctx)
		s.consumerStop = cancel
		s.consumerDone = make(chan error, 1)
		go func() {
			s.logger.Info("Ingestion consumer starting...", "subscription_id", s.cfg.SubscriptionID)
			s.consumerDone <- s.consumer.Run(consumerCtx)
		}()
	}

	s.ready.Store(true)
	s.logger.Info("Service is now ready.", "listen_addr", s.cfg.ListenAddr)

	err := s.echo.Start(s.cfg.ListenAddr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down service components...")
	s.ready.Store(false)

	var finalErr error
	if s.consumerStop != nil {
		s.consumerStop()
		select {
		case err := <-s.consumerDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Ingestion consumer shutdown failed.", "err", err)
				finalErr = err
			}
		case <-ctx.Done():
			finalErr = fmt.Errorf("consumer drain timed out: %w", ctx.Err())
		}
	}

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}

	if s.queueClient != nil {
		if err := s.queueClient.Close(); err != nil {
			s.logger.Error("Queue client shutdown failed.", "err", err)
		}
	}
	s.logger.Info("Service shutdown complete.")
	return finalErr
}
