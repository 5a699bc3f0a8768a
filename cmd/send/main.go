package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/ledger"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/queue"
	"github.com/tutadeploy/smpp-server/internal/sms"
)

// Operational helper: accept a message from the command line the same way
// an API caller would, then optionally poll its per-destination status.
func main() {
	appID := flag.String("app", "", "application id to bill and attribute the message to")
	to := flag.String("to", "", "comma-separated destination numbers")
	content := flag.String("content", "", "message body")
	sender := flag.String("sender", "", "optional sender id")
	orderID := flag.String("order", "", "optional caller correlation id")
	status := flag.String("status", "", "query status of an existing message id instead of sending")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	slog.SetDefault(slog.New(logging.NewContextHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()
	store := database.NewStore(dbpool)

	if *status != "" {
		if *appID == "" {
			log.Fatal("-app is required with -status")
		}
		svc := sms.NewService(store, nil, nil, cfg.Kafka)
		statuses, err := svc.Status(ctx, *appID, *status)
		if err != nil {
			log.Fatalf("Status query failed: %v", err)
		}
		for _, st := range statuses {
			line := fmt.Sprintf("%s\t%s", st.PhoneNumber, st.Status)
			if st.ErrorMessage != nil {
				line += "\t" + *st.ErrorMessage
			}
			fmt.Println(line)
		}
		return
	}

	if *appID == "" || *to == "" || *content == "" {
		flag.Usage()
		os.Exit(2)
	}

	publisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatalf("Failed to create kafka publisher: %v", err)
	}
	defer publisher.Close()

	ledgerSvc, err := ledger.NewService(store, store, cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to initialize ledger: %v", err)
	}

	svc := sms.NewService(store, ledgerSvc, publisher, cfg.Kafka)
	result, err := svc.Send(ctx, sms.SendRequest{
		AppID:        *appID,
		Content:      *content,
		SenderID:     *sender,
		OrderID:      *orderID,
		PhoneNumbers: strings.Split(*to, ","),
	})
	if err != nil {
		log.Fatalf("Send rejected: %v", err)
	}
	fmt.Printf("%s\taccepted=%d\n", result.MessageID, result.Accepted)
}
