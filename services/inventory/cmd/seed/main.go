// Command seed provisions stock ledger rows, either from a CSV file of
// "product_id,quantity" records or as a generated batch.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/config"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository/postgres"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/seed"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/service"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/migrations"
)

var (
	file     = flag.String("file", "", "CSV file of product_id,quantity records")
	generate = flag.Int("generate", 0, "generate this many products instead of reading a file")
	prefix   = flag.String("prefix", "prod", "product id prefix for generated products")
	quantity = flag.Int("quantity", 100, "initial units for generated products")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("inventory-seed", cfg.LogLevel)

	items, err := loadItems()
	if err != nil {
		log.Error("failed to read seed input", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(items) == 0 {
		log.Error("nothing to seed: pass -file or -generate")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pgCfg := cfg.Postgres("inventory-seed")
	pgCfg.MaxConns, pgCfg.MinConns = 4, 1
	pool, err := database.NewPostgresPool(ctx, pgCfg, log)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ledger := service.NewLedgerService(
		postgres.NewLedgerRepository(pool),
		service.NewHistoryRecorder(postgres.NewHistoryRepository(pool), log),
		database.RetryPolicy{MaxAttempts: cfg.LedgerRetryMaxAttempts, Backoff: cfg.LedgerRetryBackoff},
		log,
	)

	start := time.Now()
	res, err := seed.Run(ctx, ledger, items, log)
	log.Info("seed finished",
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadItems() ([]seed.Item, error) {
	if *generate > 0 {
		return seed.Generate(*prefix, *generate, *quantity), nil
	}
	if *file == "" {
		return nil, nil
	}
	f, err := os.Open(*file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return seed.Parse(f)
}
