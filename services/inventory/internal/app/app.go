package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/health"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/server"
	pkgkafka "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/lock"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/tracing"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/config"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/event"
	handler "github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/handler/http"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository/postgres"
	redisrepo "github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository/redis"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/service"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/sweeper"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/migrations"
)

const serviceName = "inventory"

// App wires together all dependencies and runs the inventory service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	zk             *zk.Conn
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	httpServer     *server.Server
	consumers      []*pkgkafka.Consumer
	sweeper        *sweeper.Sweeper
	reservations   *service.ReservationService
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

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres("inventory-service"), logger)
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

	rdb, err := database.NewRedisClient(ctx, cfg.Redis("inventory-service"))
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

	locker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}

	// Build the dependency graph.
	retry := database.RetryPolicy{MaxAttempts: cfg.LedgerRetryMaxAttempts, Backoff: cfg.LedgerRetryBackoff}
	history := service.NewHistoryRecorder(postgres.NewHistoryRepository(pool), logger)
	ledger := service.NewLedgerService(postgres.NewLedgerRepository(pool), history, retry, logger)
	index := redisrepo.NewExpiryIndex(rdb)
	a.reservations = service.NewReservationService(
		postgres.NewTransactor(pool),
		postgres.NewReservationRepository(pool),
		postgres.NewSettlementRepository(pool),
		index,
		history,
		service.ReservationConfig{TTL: cfg.ReservationTTL, Retry: retry},
		logger,
	)
	eventProducer := event.NewProducer(a.producer, logger)

	router := events.NewRouter()
	event.NewConsumer(a.reservations, eventProducer, logger).Register(router)
	idempotent := pkgkafka.IdempotentHandler(
		pkgkafka.NewRedisIdempotencyStore(rdb, "inventory:processed", cfg.IdempotencyTTL),
		router.Handle,
		logger,
	)
	subscriptions := []struct {
		topic       string
		maxAttempts int
	}{
		{events.TopicInventoryReservationRequest, cfg.ReservationRequestMaxAttempts},
		{events.TopicOrderConfirmed, cfg.SettlementMaxAttempts},
		{events.TopicOrderCancelled, cfg.SettlementMaxAttempts},
		{events.TopicReservationExpired, cfg.SettlementMaxAttempts},
	}
	for _, sub := range subscriptions {
		a.consumers = append(a.consumers, pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     "inventory-service." + sub.topic,
			Topic:       sub.topic,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxAttempts: sub.maxAttempts,
		}, idempotent, a.dlq, logger))
	}

	a.sweeper = sweeper.New(index, eventProducer, locker, sweeper.Config{
		Interval:  cfg.SweeperInterval,
		BatchSize: cfg.SweeperBatchSize,
		Lease:     lock.LeaseOptions{MinHold: cfg.SweeperLockMinHold, MaxHold: cfg.SweeperLockMaxHold},
	}, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", database.RedisHealthCheck(rdb))
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return a.producer.Ping(ctx)
	})
	if a.zk != nil {
		healthHandler.RegisterNonCritical("zookeeper", func(context.Context) error {
			return lock.ZookeeperHealthy(a.zk)
		})
	}

	stockHandler := handler.NewStockHandler(ledger, history, a.reservations, logger)
	a.httpServer = server.New(server.Config{
		Port:            cfg.HTTPPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, handler.NewRouter(stockHandler, healthHandler, logger), logger)
	return nil
}

// newLocker returns the lease lock backend named by LOCK_BACKEND.
func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	switch a.cfg.LockBackend {
	case config.LockBackendZookeeper:
		conn, err := lock.ConnectZookeeper(ctx, a.cfg.ZookeeperServers, a.cfg.ZookeeperSessionTTL)
		if err != nil {
			return nil, err
		}
		a.zk = conn
		a.logger.Info("sweeper lock backed by zookeeper", slog.Any("servers", a.cfg.ZookeeperServers))
		return lock.NewZookeeperLocker(conn, "/inventory/locks"), nil
	default:
		a.logger.Info("sweeper lock backed by redis")
		return lock.NewRedisLocker(a.redis, "inventory:lock"), nil
	}
}

// Run starts the HTTP server, Kafka consumers and the expiry sweeper, then
// blocks until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	rebuildCtx, cancel := context.WithTimeout(ctx, time.Minute)
	n, err := a.reservations.RebuildExpiryIndex(rebuildCtx)
	cancel()
	if err != nil {
		a.logger.Warn("expiry index rebuild incomplete", slog.Int("indexed", n), slog.String("error", err.Error()))
	} else {
		a.logger.Info("expiry index rebuilt", slog.Int("active_reservations", n))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	for _, c := range a.consumers {
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return fmt.Errorf("consumer %s: %w", c.Topic(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	runErr := g.Wait()
	return errors.Join(runErr, a.close())
}

// close releases every initialized resource in dependency order:
// 1. Kafka consumers
// 2. Kafka producer and DLQ producer
// 3. ZooKeeper session and Redis client
// 4. PostgreSQL pool
// 5. Tracer (flush pending spans last)
func (a *App) close() error {
	a.logger.Info("shutting down application...")

	var errs []error
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("consumer close error", slog.String("topic", c.Topic()), slog.String("error", err.Error()))
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
	if a.zk != nil {
		a.zk.Close()
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
