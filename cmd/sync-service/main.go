package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/escrow-engine/internal/app"
	"github.com/cuongbtq/escrow-engine/internal/arbitration"
	"github.com/cuongbtq/escrow-engine/internal/config"
	"github.com/cuongbtq/escrow-engine/internal/escrow"
	"github.com/cuongbtq/escrow-engine/internal/reconciler"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("SYNC_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/sync-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	migrate := flag.Bool("migrate", false, "Apply pending database migrations before syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateSync(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := app.NewLogger(&cfg.Logging, "sync-service")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting sync service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Open(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *migrate {
		if err := app.Migrate(rt.DB); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	agent, err := rt.NewAgent(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize arbitration agent: %w", err)
	}

	checkpointName := cfg.Reconciler.CheckpointName
	if checkpointName == "" {
		checkpointName = reconciler.DefaultCheckpointName
	}

	rec := reconciler.New(&reconciler.Config{
		Logger:             appLogger.Logger,
		Store:              rt.Storage,
		Arbiter:            agent,
		DeadLetters:        rt.DeadLetters(),
		Concurrency:        cfg.Reconciler.Concurrency,
		ShardBuffer:        cfg.Reconciler.ShardBuffer,
		MaxAttempts:        cfg.Reconciler.MaxAttempts,
		RetryInterval:      cfg.Reconciler.RetryInterval,
		MaxRetryInterval:   cfg.Reconciler.MaxRetryInterval,
		CheckpointName:     checkpointName,
		CheckpointInterval: cfg.Reconciler.CheckpointInterval,
	})

	background := map[string]escrow.Runner{}
	if rt.Broker != nil {
		background["arbitration-consumer"] = arbitration.NewConsumer(&arbitration.ConsumerConfig{
			Logger:      appLogger.Logger,
			Broker:      rt.Broker,
			Arbiter:     agent,
			Queue:       cfg.RabbitMQ.Queues.Arbitration.Name,
			Concurrency: cfg.RabbitMQ.Consumer.Concurrency,
			Prefetch:    cfg.RabbitMQ.Consumer.PrefetchCount,
		})
	}

	svc := rt.NewService(app.ServiceOptions{
		Sync: &escrow.SyncConfig{
			Events:         rt.Chain,
			Reconciler:     rec,
			Checkpoints:    rt.Storage,
			CheckpointName: checkpointName,
			StartBlock:     cfg.Reconciler.StartBlock,
		},
		Background: background,
	})

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start escrow service: %w", err)
	}

	appLogger.Info("Sync service is running")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down sync service...")

	if err := svc.Stop(); err != nil {
		appLogger.Error("Sync service stopped with errors", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("Sync service shutdown complete")
	return nil
}
