// Command server runs the order service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/app"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/config"
)

const serviceName = "order-service"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("order service exited", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(serviceName, cfg.LogLevel).With(slog.String("version", version))
	slog.SetDefault(log)
	log.Info("starting order service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("catalog_base_url", cfg.CatalogBaseURL),
		slog.Duration("outbox_poll_interval", cfg.OutboxPollInterval),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := application.Run(ctx); err != nil {
		return err
	}

	log.Info("order service stopped")
	return nil
}
