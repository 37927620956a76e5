package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/config"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment"
	"github.com/shopopti/go-import-fulfillment/internal/handlers"
	"github.com/shopopti/go-import-fulfillment/internal/importer"
	"github.com/shopopti/go-import-fulfillment/internal/importer/bulk"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
	"github.com/shopopti/go-import-fulfillment/internal/transport"
)

func setupRouter(cfg handlers.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	handlers.Register(r, cfg)

	return r
}

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

	retryQueue := transport.NewDynamoQueueStore(clients.DynamoDB, settings.RetryQueueTable)
	gateway := transport.NewClient(transport.ClientConfig{
		GatewayURL:     settings.GatewayURL,
		ClientID:       settings.ClientID,
		ClientVersion:  settings.ClientVersion,
		RequestTimeout: settings.RequestTimeout,
		Credentials:    transport.NewMemoryCredentialStore(os.Getenv("GATEWAY_TOKEN")),
		Queue:          retryQueue,
		Policy:         retry.ClientQueuePolicy(),
		Logger:         logger,
	})

	orders := fulfillment.NewOrderStore(clients.DynamoDB, settings.OrdersTable)
	mappings := fulfillment.NewMappingStore(clients.DynamoDB, settings.SupplierMappingTable)
	queue := fulfillment.NewQueueStore(clients.DynamoDB, settings.FulfillmentQueueTable)
	vault := fulfillment.NewDynamoVault(clients.DynamoDB, settings.SupplierVaultTable)
	publisher := awsx.NewPublisher(clients.SQS, settings.FulfillmentQueueURL)
	dispatcher := fulfillment.NewDispatcher(orders, mappings, queue, publisher, metrics, logger)

	pipeline := importer.NewPipeline(
		&importer.GatewayExtractor{Client: gateway},
		importer.FieldNormalizer{},
		importer.FallbackValidator{},
		importer.NewGatewayCommitter(gateway),
		logger,
	)
	scheduler := bulk.NewScheduler(pipeline, logger)

	r := setupRouter(handlers.Config{
		Orders:         orders,
		Queue:          queue,
		Dispatcher:     dispatcher,
		Vault:          vault,
		Pipeline:       pipeline,
		Bulk:           scheduler,
		TransportQueue: retryQueue,
		Logger:         logger,
	})

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		logger.Info("running local server", "addr", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
