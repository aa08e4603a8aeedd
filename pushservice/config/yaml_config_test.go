package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/pushservice/config"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:          "yaml-project",
			ListenAddr:         ":9000",
			SubscriptionID:     "yaml-subscription",
			CorsAllowedOrigins: []string{"http://yaml.com"},
			StorageConfig: config.YamlStorageConfig{
				Backend:     "postgres",
				PostgresDSN: "postgres://yaml",
			},
			RedisConfig: config.YamlRedisConfig{
				Addr:     "localhost:6379",
				Enabled:  true,
				CacheTTL: "10m",
			},
			VapidConfig: config.YamlVapidConfig{
				PublicKey:       "yaml-public-key",
				PrivateKey:      "yaml-private-key",
				SubscriberEmail: "yaml@test.com",
			},
			APNSConfig: config.YamlAPNSConfig{
				Enabled:   true,
				KeyID:     "yaml-key",
				TeamID:    "yaml-team",
				BundleID:  "com.yaml.app",
				P8KeyPath: "/keys/apns.p8",
			},
			DispatchConfig: config.YamlDispatchConfig{
				BatchSize:      250,
				Concurrency:    8,
				CallsPerSecond: 50,
			},
			QueueConfig: config.YamlQueueConfig{
				Enabled:     true,
				Concurrency: 12,
			},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsAllowedOrigins)

		assert.Equal(t, "postgres", cfg.Storage.Backend)
		assert.Equal(t, "postgres://yaml", cfg.Storage.PostgresDSN)

		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)

		assert.Equal(t, "yaml-public-key", cfg.Vapid.PublicKey)
		assert.Equal(t, "yaml-private-key", cfg.Vapid.PrivateKey)
		assert.Equal(t, "yaml@test.com", cfg.Vapid.SubscriberEmail)

		assert.True(t, cfg.APNS.Enabled)
		assert.Equal(t, "com.yaml.app", cfg.APNS.BundleID)

		assert.Equal(t, 250, cfg.Dispatch.BatchSize)
		assert.Equal(t, 8, cfg.Dispatch.Concurrency)
		assert.Equal(t, 50, cfg.Dispatch.CallsPerSecond)

		assert.True(t, cfg.Queue.Enabled)
		assert.Equal(t, 12, cfg.Queue.Concurrency)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID: "minimal-project",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Storage.Backend)
		assert.Zero(t, cfg.Redis.CacheTTL)
		assert.Empty(t, cfg.Vapid.PublicKey)
	})

	t.Run("Success - Bad cache TTL is ignored", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:   "p",
			RedisConfig: config.YamlRedisConfig{CacheTTL: "not-a-duration"},
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)
		require.NoError(t, err)
		assert.Zero(t, cfg.Redis.CacheTTL)
	})
}
