// Package config provides configuration for the hub, loaded from
// $RELAYPOINT_CONFIG_DIR/config.yaml with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings. CORS is disabled unless
// cors_origins is set.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString renders the pgx/migrate connection URL.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// RedisConfig holds Redis settings for shared limiter/breaker/lease state.
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// NATSConfig holds NATS JetStream settings for the delivery queues.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// GatewayConfig holds inbound gateway settings.
type GatewayConfig struct {
	MaxBodySize        int64         `mapstructure:"max_body_size"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	RateLimitEnabled   bool          `mapstructure:"rate_limit_enabled"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
}

// DeliveryConfig holds dispatcher settings.
type DeliveryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	MaxJitter         time.Duration `mapstructure:"max_jitter"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	LeaseTTL          time.Duration `mapstructure:"lease_ttl"`
	Workers           WorkerConfig  `mapstructure:"workers"`
}

// WorkerConfig sizes the per-queue worker pools.
type WorkerConfig struct {
	High    int `mapstructure:"high"`
	Default int `mapstructure:"default"`
	Low     int `mapstructure:"low"`
	Retry   int `mapstructure:"retry"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureWindow    time.Duration `mapstructure:"failure_window"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// SchedulerConfig holds sweep intervals and bounds.
type SchedulerConfig struct {
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	RetryBatchSize  int           `mapstructure:"retry_batch_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Retention       time.Duration `mapstructure:"retention"`
}

// AuditConfig holds the optional OpenSearch audit trail sink.
type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Index    string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the config file and environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configDir := os.Getenv("RELAYPOINT_CONFIG_DIR")
	if configDir == "" {
		configDir = "/etc/relaypoint"
	}

	v.SetConfigFile(fmt.Sprintf("%s/config.yaml", configDir))
	v.SetConfigType("yaml")

	v.SetEnvPrefix("RELAYPOINT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "relaypoint")
	v.SetDefault("database.user", "relaypoint")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("gateway.max_body_size", 1048576)
	v.SetDefault("gateway.signature_tolerance", "300s")
	v.SetDefault("gateway.rate_limit_enabled", true)
	v.SetDefault("gateway.rate_limit_per_minute", 600)
	v.SetDefault("gateway.jwt_secret", "change-this-in-production")

	v.SetDefault("delivery.max_attempts", 5)
	v.SetDefault("delivery.base_delay", "60s")
	v.SetDefault("delivery.backoff_multiplier", 2.0)
	v.SetDefault("delivery.max_delay", "1h")
	v.SetDefault("delivery.max_jitter", "30s")
	v.SetDefault("delivery.connect_timeout", "3s")
	v.SetDefault("delivery.request_timeout", "10s")
	v.SetDefault("delivery.lease_ttl", "30s")
	v.SetDefault("delivery.workers.high", 8)
	v.SetDefault("delivery.workers.default", 4)
	v.SetDefault("delivery.workers.low", 2)
	v.SetDefault("delivery.workers.retry", 2)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.failure_window", "60s")
	v.SetDefault("breaker.cool_down", "30s")

	v.SetDefault("scheduler.retry_interval", "5m")
	v.SetDefault("scheduler.retry_batch_size", 100)
	v.SetDefault("scheduler.cleanup_interval", "24h")
	v.SetDefault("scheduler.retention", "720h")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.url", "https://localhost:9200")
	v.SetDefault("audit.username", "admin")
	v.SetDefault("audit.password", "")
	v.SetDefault("audit.insecure", true)
	v.SetDefault("audit.index", "relaypoint-audit")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
