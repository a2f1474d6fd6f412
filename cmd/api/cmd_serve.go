package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/safar/grocery-store/internal/api"
	"github.com/safar/grocery-store/internal/auth"
	"github.com/safar/grocery-store/internal/catalog"
	"github.com/safar/grocery-store/internal/chat"
	"github.com/safar/grocery-store/internal/config"
	"github.com/safar/grocery-store/internal/database"
	"github.com/safar/grocery-store/internal/events"
	"github.com/safar/grocery-store/internal/logging"
	"github.com/spf13/cobra"
)

// api serve
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the order event relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logging.New(cfg.Log)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, database.MigrateUp); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	var cache catalog.Cache = catalog.NopCache{}
	if cfg.Redis.Addr != "" {
		client, err := catalog.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = catalog.NewRedisCache(client, cfg.Redis.CatalogTTL, logger)
		logger.Info("catalog cache enabled", "addr", cfg.Redis.Addr)
	}

	var relay *events.Relay
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka)
		defer closeLogged(logger, "kafka publisher", publisher.Close)

		relay = events.NewRelay(db, publisher, logger, cfg.Kafka.RelayInterval, cfg.Kafka.BatchSize)
		relay.Start(ctx)
	} else {
		logger.Info("no kafka brokers configured, order events stay in the outbox")
	}

	handler := api.NewServer(
		db,
		catalog.New(db, cache, logger),
		chat.New(cfg.Chat, logger),
		auth.NewTokens(cfg.Auth),
		logger,
	)
	server := api.NewHTTPServer(handler, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		errCh <- server.Run()
	}()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server shutdown failed", "error", err)
	}
	if relay != nil {
		relay.Stop()
	}

	if runErr != nil {
		return fmt.Errorf("server: %w", runErr)
	}
	logger.Info("server stopped")
	return nil
}

func closeLogged(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", "component", name, "error", err)
	}
}
