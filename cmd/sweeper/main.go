package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/config"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
	"github.com/shopopti/go-import-fulfillment/internal/tracking"
	"github.com/shopopti/go-import-fulfillment/internal/transport"
)

// background bundles the three periodic jobs: retry-queue replay, due
// fulfillment placement, and tracking reconciliation.
type background struct {
	settings   config.Settings
	sweeper    *transport.Sweeper
	executor   *fulfillment.Executor
	reconciler *tracking.Reconciler
	log        *logging.Logger
}

func newBackground(ctx context.Context, settings config.Settings, logger *logging.Logger) (*background, error) {
	clients, err := awsx.NewClients(ctx)
	if err != nil {
		return nil, err
	}
	metrics := awsx.NewMetrics(clients.CloudWatch, settings.MetricsNamespace)

	retryQueue := transport.NewDynamoQueueStore(clients.DynamoDB, settings.RetryQueueTable)
	queuePolicy := retry.ClientQueuePolicy()
	queuePolicy.MaxRetries = settings.QueueMaxRetries
	gateway := transport.NewClient(transport.ClientConfig{
		GatewayURL:     settings.GatewayURL,
		ClientID:       settings.ClientID,
		ClientVersion:  settings.ClientVersion,
		RequestTimeout: settings.RequestTimeout,
		Credentials:    transport.NewMemoryCredentialStore(os.Getenv("GATEWAY_TOKEN")),
		Queue:          retryQueue,
		Policy:         queuePolicy,
		Logger:         logger,
	})
	sweeper := transport.NewSweeper(gateway, retryQueue, queuePolicy, metrics, settings.SweepInterval, logger)

	vault := fulfillment.NewDynamoVault(clients.DynamoDB, settings.SupplierVaultTable)
	registry := supplier.DefaultRegistry()
	shipments := tracking.NewStore(clients.DynamoDB, settings.ShipmentsTable)

	placementPolicy := retry.FulfillmentPolicy()
	placementPolicy.MaxRetries = settings.FulfillmentMaxRetries
	executor := fulfillment.NewExecutor(fulfillment.ExecutorConfig{
		Orders:    fulfillment.NewOrderStore(clients.DynamoDB, settings.OrdersTable),
		Queue:     fulfillment.NewQueueStore(clients.DynamoDB, settings.FulfillmentQueueTable),
		Vault:     vault,
		Registry:  registry,
		Shipments: shipments,
		Policy:    placementPolicy,
		Metrics:   metrics,
		BatchSize: settings.FulfillmentBatchSize,
		Logger:    logger,
	})

	storefront := tracking.NewShopifyStorefront(settings.StorefrontURL, settings.StorefrontToken)
	reconciler := tracking.NewReconciler(shipments, registry, vault, storefront, metrics, logger)

	return &background{
		settings:   settings,
		sweeper:    sweeper,
		executor:   executor,
		reconciler: reconciler,
		log:        logger,
	}, nil
}

// runOnce does a single pass of every job. Used from the scheduled Lambda.
func (b *background) runOnce(ctx context.Context) error {
	if _, err := b.sweeper.SweepOnce(ctx); err != nil {
		b.log.Error("retry queue sweep", "error", err)
		return err
	}
	if _, err := b.executor.Sweep(ctx); err != nil {
		b.log.Error("fulfillment sweep", "error", err)
		return err
	}
	if _, err := b.reconciler.ReconcileOnce(ctx); err != nil {
		b.log.Error("tracking reconcile", "error", err)
		return err
	}
	return nil
}

// runForever drives all jobs on their own tickers until ctx is cancelled.
func (b *background) runForever(ctx context.Context) {
	go b.sweeper.Run(ctx)
	go b.executor.Run(ctx, b.settings.SweepInterval)
	b.reconciler.Run(ctx, b.settings.ReconcileInterval)
}

func main() {
	settings := config.FromEnv()

	logger, err := logging.New(settings.Mode)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	jobs, err := newBackground(ctx, settings, logger)
	if err != nil {
		log.Fatalf("failed to init background jobs: %v", err)
	}

	if os.Getenv("RUN_LOCAL") == "true" {
		logger.Info("running background loops",
			"sweep_interval", settings.SweepInterval,
			"reconcile_interval", settings.ReconcileInterval)
		jobs.runForever(ctx)
		return
	}

	lambda.Start(func(ctx context.Context, _ events.CloudWatchEvent) error {
		return jobs.runOnce(ctx)
	})
}
