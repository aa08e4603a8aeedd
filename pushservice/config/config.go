package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends the service can run on.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

type StorageConfig struct {
	Backend     string
	PostgresDSN string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

type APNSConfig struct {
	Enabled   bool
	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyPath string
}

type DispatchConfig struct {
	BatchSize      int
	Concurrency    int
	CallsPerSecond int
}

type QueueConfig struct {
	Enabled     bool
	Concurrency int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	SubscriptionID     string
	CorsAllowedOrigins []string

	Storage  StorageConfig
	Redis    RedisConfig
	Vapid    VapidConfig
	APNS     APNSConfig
	Dispatch DispatchConfig
	Queue    QueueConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
	}

	// Storage Overrides
	if val := os.Getenv("STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		cfg.Storage.PostgresDSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
		cfg.APNS.Enabled = true
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY_PATH"); val != "" {
		cfg.APNS.P8KeyPath = val
	}

	// Dispatch Overrides
	if val := os.Getenv("DISPATCH_BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.BatchSize = n
		}
	}
	if val := os.Getenv("DISPATCH_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.Concurrency = n
		}
	}
	if val := os.Getenv("DISPATCH_CALLS_PER_SECOND"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Dispatch.CallsPerSecond = n
		}
	}

	// Queue Overrides
	if val := os.Getenv("QUEUE_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Queue.Enabled = enabled
	}
	if val := os.Getenv("QUEUE_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsAllowedOrigins = cleanOrigins
	}

	// Final Validation
	switch cfg.Storage.Backend {
	case "":
		cfg.Storage.Backend = BackendMemory
	case BackendMemory, BackendFirestore:
	case BackendPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN (set via YAML or POSTGRES_DSN env var)")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == BackendFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore backend requires project_id (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID != "" && cfg.ProjectID == "" {
		return nil, fmt.Errorf("pub/sub ingestion requires project_id (set via YAML or PROJECT_ID env var)")
	}
	if cfg.APNS.Enabled {
		if cfg.APNS.KeyID == "" || cfg.APNS.TeamID == "" || cfg.APNS.BundleID == "" || cfg.APNS.P8KeyPath == "" {
			return nil, fmt.Errorf("APNs requires key_id, team_id, bundle_id and p8_key_path")
		}
	}
	if cfg.Queue.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("queue mode requires a Redis address (set via YAML or REDIS_ADDR env var)")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Dispatch.Concurrency <= 0 {
		cfg.Dispatch.Concurrency = 4
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 5 * time.Minute
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
