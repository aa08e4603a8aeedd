package main

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-dispatch/internal/queue"
	"github.com/tinywideclouds/go-push-dispatch/pkg/metrics"
	"github.com/tinywideclouds/go-push-dispatch/pushservice"
	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

// The worker drains the Redis-backed dispatch queue. It shares the same
// configuration surface as the HTTP service but serves no routes.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", "go-push-dispatch-worker")
	slog.SetDefault(logger)

	ctx := context.Background()

	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	if !cfg.Queue.Enabled {
		logger.Error("Queue processing is disabled. Set QUEUE_ENABLED=true to run the worker.")
		os.Exit(1)
	}

	registry, cleanup, err := pushservice.BuildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Registry setup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	router, err := pushservice.BuildGateways(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gateway setup failed", "err", err)
		os.Exit(1)
	}

	eng, err := pushservice.BuildEngine(cfg, registry, router, metrics.New(), logger)
	if err != nil {
		logger.Error("Engine setup failed", "err", err)
		os.Exit(1)
	}

	srv := queue.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Queue.Concurrency, eng, logger)

	logger.Info("Starting queue worker...", "redis_addr", cfg.Redis.Addr, "concurrency", cfg.Queue.Concurrency)
	if err := srv.Start(); err != nil {
		logger.Error("Worker failed to start", "err", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown signal received")
	srv.Shutdown()
}
