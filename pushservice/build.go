package pushservice

import (
	"context"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch/internal/gateway"
	"github.com/tinywideclouds/go-push-dispatch/internal/gateway/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/gateway/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/gateway/web"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-dispatch/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/memory"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-dispatch/pkg/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

// BuildRegistry selects the storage backend and layers the Redis cache on
// top when enabled. The returned cleanup func closes whatever clients were
// opened.
func BuildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.TokenRegistry, func(), error) {
	var (
		registry push.TokenRegistry
		cleanup  = func() {}
	)

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pg, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		registry = pg
	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = fsClient.Close() }
		registry = fsStore.NewRegistry(fsClient)
	default:
		registry = memory.NewRegistry()
	}
	logger.Info("TokenRegistry initialized", "backend", cfg.Storage.Backend)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		base := cleanup
		cleanup = func() {
			_ = redisClient.Close()
			base()
		}
		registry = cache.NewCachedRegistry(registry, redisClient, cfg.Redis.CacheTTL)
		logger.Info("TokenRegistry upgraded", "type", "redis_cached")
	}

	return registry, cleanup, nil
}

// BuildGateways assembles the fallback transport plus any variant-pinned
// transports configured.
func BuildGateways(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Gateway, error) {
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return nil, err
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	fallback := push.Gateway(fcm.New(fcmMessaging, logger))

	if cfg.APNS.Enabled {
		p8Key, err := os.ReadFile(cfg.APNS.P8KeyPath)
		if err != nil {
			return nil, err
		}
		apnsGw, err := apns.New(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(p8Key),
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("APNs gateway enabled", "bundle_id", cfg.APNS.BundleID)
		// Raw APNs device tokens are not FCM registration tokens, so
		// direct-APNs deployments replace the fallback transport entirely.
		// FCM-fronted deployments reach iOS through FCM's own APNs bridge
		// and should leave this disabled.
		fallback = apnsGw
	}

	router := gateway.NewRouter(fallback)
	if cfg.Vapid.PublicKey != "" && cfg.Vapid.PrivateKey != "" {
		logger.Info("Web Push gateway enabled")
		router.Route(push.VariantWeb, web.New(web.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger))
	} else {
		logger.Warn("VAPID keys missing in configuration. Web Push goes through the fallback transport.")
	}

	return router, nil
}

// BuildEngine wires the dispatch engine with the configured tuning knobs and
// the shared logging plus metrics event sinks.
func BuildEngine(cfg *config.Config, registry push.TokenRegistry, gw push.Gateway, m *metrics.Metrics, logger *slog.Logger) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithConcurrency(cfg.Dispatch.Concurrency),
		engine.WithEventSink(push.MultiSink(LoggingSink(logger), m.Sink())),
	}
	if cfg.Dispatch.BatchSize > 0 {
		opts = append(opts, engine.WithBatchSize(cfg.Dispatch.BatchSize))
	}
	if cfg.Dispatch.CallsPerSecond > 0 {
		opts = append(opts, engine.WithThrottle(engine.NewCallRateThrottle(cfg.Dispatch.CallsPerSecond)))
	}
	return engine.New(registry, gw, opts...)
}
