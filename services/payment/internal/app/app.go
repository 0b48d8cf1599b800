package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/server"
	pkgkafka "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/tracing"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/config"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/event"
	handler "github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/handler/http"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/provider"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/provider/mock"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/repository/postgres"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/service"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/migrations"
)

const serviceName = "payment"

// App wires together all dependencies and runs the payment service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *server.Server
	consumer       *pkgkafka.Consumer
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres("payment-service"), logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	}

	rdb, err := database.NewRedisClient(ctx, cfg.Redis("payment-service"))
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = rdb
	logger.Info("connected to Redis", slog.String("host", cfg.RedisHost), slog.Int("port", cfg.RedisPort))

	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pkgkafka.PingWithRetry(ctx, a.producer, 3, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)

	// Build the dependency graph.
	payments := service.NewPaymentService(
		postgres.NewPaymentRepository(pool),
		a.newProvider(),
		event.NewProducer(a.producer, logger),
		service.Config{DefaultCurrency: cfg.Currency},
		logger,
	)

	router := events.NewRouter()
	event.NewConsumer(payments, logger).Register(router)
	a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     "payment-service." + events.TopicOrderCreated,
		Topic:       events.TopicOrderCreated,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxAttempts: cfg.PaymentHandlerMaxAttempts,
	}, pkgkafka.IdempotentHandler(
		pkgkafka.NewRedisIdempotencyStore(rdb, "payment:processed", cfg.IdempotencyTTL),
		router.Handle,
		logger,
	), a.dlq, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", database.RedisHealthCheck(rdb))
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return a.producer.Ping(ctx)
	})

	a.httpServer = server.New(server.Config{
		Port:            cfg.HTTPPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, handler.NewRouter(handler.NewPaymentHandler(payments, logger), healthHandler, logger), logger)
	return nil
}

// newProvider returns the payment provider named by PAYMENT_PROVIDER.
// Config validation only admits the mock today.
func (a *App) newProvider() provider.Provider {
	a.logger.Info("using mock payment provider",
		slog.Int64("fail_above_amount", a.cfg.FailAboveAmount),
		slog.Duration("latency", a.cfg.ProviderLatency),
	)
	return mock.NewProvider(mock.Config{
		FailAboveAmount: a.cfg.FailAboveAmount,
		Latency:         a.cfg.ProviderLatency,
	})
}

// Run starts the HTTP server and the OrderCreated consumer, then blocks
// until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	g.Go(func() error {
		if err := a.consumer.Start(gctx); err != nil {
			return fmt.Errorf("consumer %s: %w", a.consumer.Topic(), err)
		}
		return nil
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.close())
}

// close releases resources in reverse dependency order, flushing the tracer last.
func (a *App) close() error {
	a.logger.Info("shutting down application...")

	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		tracerCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
