package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/queue"
)

// Operational helper: requeue a dead-lettered destination for a fresh
// delivery attempt.
func main() {
	messageID := flag.String("message", "", "message id to replay")
	phone := flag.String("phone", "", "destination number within the message")
	flag.Parse()

	if *messageID == "" || *phone == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	slog.SetDefault(slog.New(logging.NewContextHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	publisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatalf("Failed to create kafka publisher: %v", err)
	}
	defer publisher.Close()

	deadLetters := queue.NewDeadLetterService(database.NewStore(dbpool), publisher, cfg.Kafka)
	if err := deadLetters.Replay(ctx, queue.Envelope{
		MessageID:   *messageID,
		PhoneNumber: *phone,
	}); err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	fmt.Printf("replayed %s %s\n", *messageID, *phone)
}
