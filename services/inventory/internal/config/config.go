package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/config"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
)

// Lock backends for the expiry sweeper lease.
const (
	LockBackendRedis     = "redis"
	LockBackendZookeeper = "zookeeper"
)

// Config holds all configuration for the inventory service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server (ops endpoints)
	HTTPPort int `env:"INVENTORY_HTTP_PORT" envDefault:"8007"`
	// ShutdownTimeout bounds how long in-flight requests get to finish.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"INVENTORY_DB_NAME" envDefault:"inventory_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// Redis (expiry index, lease lock, idempotency keys)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Redelivery bound per consumer. Zero redelivers transient failures until
	// the process stops.
	ReservationRequestMaxAttempts int           `env:"RESERVATION_REQUEST_MAX_ATTEMPTS" envDefault:"0"`
	SettlementMaxAttempts         int           `env:"SETTLEMENT_MAX_ATTEMPTS" envDefault:"5"`
	IdempotencyTTL                time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Reservations
	ReservationTTL time.Duration `env:"RESERVATION_TTL" envDefault:"15m"`

	// Ledger optimistic retry
	LedgerRetryMaxAttempts int           `env:"LEDGER_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	LedgerRetryBackoff     time.Duration `env:"LEDGER_RETRY_BACKOFF" envDefault:"50ms"`

	// Expiry sweeper
	SweeperInterval     time.Duration `env:"SWEEPER_INTERVAL" envDefault:"10s"`
	SweeperBatchSize    int           `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
	SweeperLockMinHold  time.Duration `env:"SWEEPER_LOCK_MIN_HOLD" envDefault:"5s"`
	SweeperLockMaxHold  time.Duration `env:"SWEEPER_LOCK_MAX_HOLD" envDefault:"1m"`
	LockBackend         string        `env:"LOCK_BACKEND" envDefault:"redis"`
	ZookeeperServers    []string      `env:"ZOOKEEPER_SERVERS" envDefault:"localhost:2181" envSeparator:","`
	ZookeeperSessionTTL time.Duration `env:"ZOOKEEPER_SESSION_TIMEOUT" envDefault:"10s"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// SlowQueryThreshold logs statements slower than this. 0 disables it.
	SlowQueryThreshold time.Duration `env:"LOG_SLOW_QUERY" envDefault:"500ms"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load inventory config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants the env tags cannot express.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be > 0, got %s", c.ReservationTTL)
	}
	if c.SweeperInterval <= 0 || c.SweeperInterval >= c.ReservationTTL {
		return fmt.Errorf("SWEEPER_INTERVAL must be > 0 and shorter than RESERVATION_TTL (%s), got %s",
			c.ReservationTTL, c.SweeperInterval)
	}
	if c.SweeperBatchSize <= 0 {
		return fmt.Errorf("SWEEPER_BATCH_SIZE must be > 0, got %d", c.SweeperBatchSize)
	}
	if c.SweeperLockMinHold < 0 || c.SweeperLockMaxHold <= 0 || c.SweeperLockMinHold > c.SweeperLockMaxHold {
		return fmt.Errorf("sweeper lock holds must satisfy 0 <= SWEEPER_LOCK_MIN_HOLD <= SWEEPER_LOCK_MAX_HOLD, got %s and %s",
			c.SweeperLockMinHold, c.SweeperLockMaxHold)
	}
	switch c.LockBackend {
	case LockBackendRedis:
	case LockBackendZookeeper:
		if len(c.ZookeeperServers) == 0 {
			return fmt.Errorf("ZOOKEEPER_SERVERS is required when LOCK_BACKEND=zookeeper")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendRedis, LockBackendZookeeper, c.LockBackend)
	}
	if c.LedgerRetryMaxAttempts < 1 {
		return fmt.Errorf("LEDGER_RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.LedgerRetryMaxAttempts)
	}
	if c.ReservationRequestMaxAttempts < 0 || c.SettlementMaxAttempts < 0 {
		return fmt.Errorf("consumer max attempts must be >= 0")
	}
	return nil
}

// Postgres returns the pool settings. appName is reported to the server as
// application_name.
func (c *Config) Postgres(appName string) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		ApplicationName: appName,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// Redis returns the client settings. clientName is sent with CLIENT SETNAME.
func (c *Config) Redis(clientName string) database.RedisConfig {
	return database.RedisConfig{
		Host:       c.RedisHost,
		Port:       c.RedisPort,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		ClientName: clientName,
	}
}
