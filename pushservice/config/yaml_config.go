package config

import (
	"log/slog"
	"time"
)

type YamlStorageConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlAPNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyID     string `yaml:"key_id"`
	TeamID    string `yaml:"team_id"`
	BundleID  string `yaml:"bundle_id"`
	P8KeyPath string `yaml:"p8_key_path"`
}

type YamlDispatchConfig struct {
	BatchSize      int `yaml:"batch_size"`
	Concurrency    int `yaml:"concurrency"`
	CallsPerSecond int `yaml:"calls_per_second"`
}

type YamlQueueConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID          string             `yaml:"project_id"`
	ListenAddr         string             `yaml:"listen_addr"`
	SubscriptionID     string             `yaml:"subscription_id"`
	CorsAllowedOrigins []string           `yaml:"cors_allowed_origins"`
	StorageConfig      YamlStorageConfig  `yaml:"storage"`
	RedisConfig        YamlRedisConfig    `yaml:"redis"`
	VapidConfig        YamlVapidConfig    `yaml:"vapid"`
	APNSConfig         YamlAPNSConfig     `yaml:"apns"`
	DispatchConfig     YamlDispatchConfig `yaml:"dispatch"`
	QueueConfig        YamlQueueConfig    `yaml:"queue"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cacheTTL := time.Duration(0)
	if baseCfg.RedisConfig.CacheTTL != "" {
		d, err := time.ParseDuration(baseCfg.RedisConfig.CacheTTL)
		if err != nil {
			logger.Warn("Ignoring unparsable redis cache_ttl", "value", baseCfg.RedisConfig.CacheTTL, "err", err)
		} else {
			cacheTTL = d
		}
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		SubscriptionID:     baseCfg.SubscriptionID,
		CorsAllowedOrigins: baseCfg.CorsAllowedOrigins,
		Storage: StorageConfig{
			Backend:     baseCfg.StorageConfig.Backend,
			PostgresDSN: baseCfg.StorageConfig.PostgresDSN,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			CacheTTL: cacheTTL,
		},
		Vapid: VapidConfig{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
		APNS: APNSConfig{
			Enabled:   baseCfg.APNSConfig.Enabled,
			KeyID:     baseCfg.APNSConfig.KeyID,
			TeamID:    baseCfg.APNSConfig.TeamID,
			BundleID:  baseCfg.APNSConfig.BundleID,
			P8KeyPath: baseCfg.APNSConfig.P8KeyPath,
		},
		Dispatch: DispatchConfig{
			BatchSize:      baseCfg.DispatchConfig.BatchSize,
			Concurrency:    baseCfg.DispatchConfig.Concurrency,
			CallsPerSecond: baseCfg.DispatchConfig.CallsPerSecond,
		},
		Queue: QueueConfig{
			Enabled:     baseCfg.QueueConfig.Enabled,
			Concurrency: baseCfg.QueueConfig.Concurrency,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_backend", cfg.Storage.Backend,
	)

	return cfg, nil
}
