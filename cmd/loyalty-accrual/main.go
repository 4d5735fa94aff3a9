// Command loyalty-accrual is the Lambda function attached to the table
// stream. It credits points for orders as they complete.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"

	"github.com/jacentio/loyalty/event"
	"github.com/jacentio/loyalty/internal/config"
	"github.com/jacentio/loyalty/ledger"
	"github.com/jacentio/loyalty/order"
	"github.com/jacentio/loyalty/store"
	"github.com/jacentio/loyalty/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	awsCfg, err := cfg.AWS(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	table := store.New(dynamodb.NewFromConfig(awsCfg, cfg.DynamoDBOptions), cfg.StoreConfig())
	var publisher event.Publisher
	switch cfg.EventSink {
	case config.SinkLog:
		publisher = event.Logger{Log: logger}
	case config.SinkNone:
		publisher = event.Nop{}
	default:
		publisher = event.NewEventBridge(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName)
	}
	events := event.NewEmitter(publisher, cfg.EventSource, logger)

	handler := stream.NewHandler(
		ledger.New(table, events, cfg.LedgerConfig(), logger),
		order.NewService(table, events, cfg.OrderConfig(), logger),
		cfg.StreamConfig(),
		logger,
	)

	logger.Info("starting accrual handler",
		"table", table.TableName(),
		"eventSink", cfg.EventSink,
		"eventBus", cfg.EventBusName,
	)
	lambda.Start(handler.HandleOrderStream)
}
