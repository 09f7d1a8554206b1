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
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobq/internal/config"
	"github.com/cuongbtq/jobq/internal/notify"
	"github.com/cuongbtq/jobq/internal/objectstore"
	"github.com/cuongbtq/jobq/internal/queue"
	"github.com/cuongbtq/jobq/internal/worker"
	"github.com/cuongbtq/jobq/shared/logger"
	"github.com/cuongbtq/jobq/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("JOBQ_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting jobq worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appLogger.Info("database connection established")

	store := queue.NewStore(dbClient.GetDB(), appLogger.Logger, queue.Config{
		MaxParallelJobs:    cfg.Queue.MaxParallelJobs,
		MinFreeConnections: cfg.Queue.MinFreeConnections,
		DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
		AdvisoryNamespace:  queue.AdvisoryNamespace,
	})

	var publisher *notify.Publisher
	if cfg.Notify.Enabled {
		publisher, err = initNotify(&cfg.Notify, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize notify publisher: %w", err)
		}
		appLogger.Info("notify exchange connection established")
		store.SetNotifier(publisher)
	}

	executor, err := objectstore.NewExecutor(context.Background(), dbClient.GetDB().DB, objectstore.Config{
		Endpoint:     cfg.ObjectStore.Endpoint,
		AccessKey:    cfg.ObjectStore.AccessKey,
		SecretKey:    cfg.ObjectStore.SecretKey,
		UseSSL:       cfg.ObjectStore.UseSSL,
		Region:       cfg.ObjectStore.Region,
		UsePathStyle: cfg.ObjectStore.UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize object store executor: %w", err)
	}
	store.SetExecutor(executor)

	pool := worker.NewPool(worker.Config{
		Logger:             appLogger.Logger,
		Store:              store,
		Concurrency:        cfg.Worker.Concurrency,
		PollInterval:       cfg.Worker.PollInterval,
		IdentityPrefix:     cfg.Worker.IdentityPrefix,
		MaintenanceCron:    cfg.Worker.MaintenanceCron,
		OrphanRequeueLimit: cfg.Worker.OrphanRequeueLimit,
		PurgeRetention:     cfg.Worker.PurgeRetention,
		PurgeBatchLimit:    cfg.Worker.PurgeBatchLimit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := pool.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("jobq worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("received signal, shutting down gracefully", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("worker pool error", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("worker shutdown timeout exceeded, forcing exit")
	}

	if publisher != nil {
		_ = publisher.Close()
	}
	_ = dbClient.Close()

	appLogger.Info("worker service shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
	return logger.New(loggerCfg)
}

func initPostgreSQL(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	return postgresql.NewClient(dbConfig, log)
}

func initNotify(cfg *config.NotifyConfig, log *slog.Logger) (*notify.Publisher, error) {
	notifyConfig := notify.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.ExchangeName,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}
	return notify.NewPublisher(notifyConfig, log)
}
