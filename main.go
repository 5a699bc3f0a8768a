package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/dlr"
	"github.com/tutadeploy/smpp-server/internal/ledger"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/provider"
	"github.com/tutadeploy/smpp-server/internal/queue"
)

// registrySubmitters adapts the provider registry to the dispatcher's view
// of the active session.
type registrySubmitters struct {
	registry *provider.Registry
}

func (r registrySubmitters) Active() (queue.Submitter, error) {
	sess, err := r.registry.ActiveProvider()
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", "level", logLevel.String())

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	slog.Info("Database connection pool established")

	store := database.NewStore(dbpool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	defer redisClient.Close()

	ledgerSvc, err := ledger.NewService(store, store, cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	mappings := dlr.NewMappingStore(redisClient)
	correlator := dlr.NewCorrelator(store, mappings)

	registry := provider.NewRegistry(store, cfg.SMPP, func(ctx context.Context, providerID, payload string, seq int32) {
		if err := correlator.HandleReceipt(ctx, providerID, payload, seq); err != nil {
			slog.ErrorContext(ctx, "Failed to process delivery receipt", slog.Any("error", err))
		}
	})
	if err := registry.Start(ctx, cfg.Registry.ActiveProviderID); err != nil {
		log.Fatalf("Failed to start provider registry: %v", err)
	}

	publisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatalf("Failed to create kafka publisher: %v", err)
	}
	defer publisher.Close()

	retries := queue.NewRetryScheduler(publisher, cfg.Kafka, cfg.Consumer)
	deadLetters := queue.NewDeadLetterService(store, publisher, cfg.Kafka)
	dispatcher := queue.NewDispatcher(
		store,
		ledgerSvc,
		registrySubmitters{registry: registry},
		mappings,
		retries,
		deadLetters,
		cfg.Consumer,
	)

	consumer, err := queue.NewConsumer(cfg.Kafka, cfg.Consumer, dispatcher)
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Consumer stopped", slog.Any("error", err))
			cancel()
		}
	}()

	slog.Info("SMS gateway started",
		"active_provider", registry.ActiveProviderID(),
		"send_topic", cfg.Kafka.SendTopic)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := consumer.Close(); err != nil {
		slog.Warn("Error closing consumer", slog.Any("error", err))
	}
	retries.Stop()
	registry.Stop(shutdownCtx)
	slog.Info("Gateway stopped")
}
