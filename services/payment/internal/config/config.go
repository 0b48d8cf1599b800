package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/config"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
)

// ProviderMock selects the in-process mock provider.
const ProviderMock = "mock"

// Config holds all configuration for the payment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"PAYMENT_HTTP_PORT" envDefault:"8005"`
	// ShutdownTimeout bounds how long in-flight requests get to finish.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"PAYMENT_DB_NAME" envDefault:"payment_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// Redis (idempotency keys)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	// PaymentHandlerMaxAttempts of 0 keeps redelivering; the charge is
	// idempotent so retrying is always safe.
	PaymentHandlerMaxAttempts int           `env:"PAYMENT_HANDLER_MAX_ATTEMPTS" envDefault:"0"`
	IdempotencyTTL            time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Payment provider
	Provider        string        `env:"PAYMENT_PROVIDER" envDefault:"mock"`
	Currency        string        `env:"PAYMENT_CURRENCY" envDefault:"USD"`
	FailAboveAmount int64         `env:"PAYMENT_FAIL_ABOVE_AMOUNT" envDefault:"0"`
	ProviderLatency time.Duration `env:"PAYMENT_PROVIDER_LATENCY" envDefault:"50ms"`

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
		return nil, fmt.Errorf("load payment config: %w", err)
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
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.Provider != ProviderMock {
		return fmt.Errorf("PAYMENT_PROVIDER must be %q, got %q", ProviderMock, c.Provider)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be a 3-letter ISO code, got %q", c.Currency)
	}
	if c.FailAboveAmount < 0 {
		return fmt.Errorf("PAYMENT_FAIL_ABOVE_AMOUNT must be >= 0, got %d", c.FailAboveAmount)
	}
	if c.PaymentHandlerMaxAttempts < 0 {
		return fmt.Errorf("PAYMENT_HANDLER_MAX_ATTEMPTS must be >= 0, got %d", c.PaymentHandlerMaxAttempts)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
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
