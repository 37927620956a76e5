package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/config"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
	"github.com/shopopti/go-import-fulfillment/internal/tracking"
)

func main() {
	ctx := context.Background()
	settings := config.FromEnv()

	logger, err := logging.New(settings.Mode)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	clients, err := awsx.NewClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	metrics := awsx.NewMetrics(clients.CloudWatch, settings.MetricsNamespace)

	policy := retry.FulfillmentPolicy()
	policy.MaxRetries = settings.FulfillmentMaxRetries

	executor := fulfillment.NewExecutor(fulfillment.ExecutorConfig{
		Orders:    fulfillment.NewOrderStore(clients.DynamoDB, settings.OrdersTable),
		Queue:     fulfillment.NewQueueStore(clients.DynamoDB, settings.FulfillmentQueueTable),
		Vault:     fulfillment.NewDynamoVault(clients.DynamoDB, settings.SupplierVaultTable),
		Registry:  supplier.DefaultRegistry(),
		Shipments: tracking.NewStore(clients.DynamoDB, settings.ShipmentsTable),
		Policy:    policy,
		Metrics:   metrics,
		BatchSize: settings.FulfillmentBatchSize,
		Logger:    logger,
	})

	p := NewProcessor(executor, logger)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1","supplier":"generic"}`
		}
		ev := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: body},
			},
		}
		if err := p.Handle(ctx, ev); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
