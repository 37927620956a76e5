// Package config centralises runtime configuration for the import/fulfillment services.
// Everything is read from the environment with sensible defaults, so Lambda and
// RUN_LOCAL deployments configure the same way.
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings aggregates the tunables for all services.
type Settings struct {
	// Mode selects logger behavior: "prod" or "dev".
	Mode string

	// Gateway (transport layer).
	GatewayURL     string
	ClientID       string
	ClientVersion  string
	RequestTimeout time.Duration

	// DynamoDB tables.
	RetryQueueTable       string
	OrdersTable           string
	FulfillmentQueueTable string
	SupplierMappingTable  string
	SupplierVaultTable    string
	ShipmentsTable        string

	// SQS queue for fulfillment hand-off.
	FulfillmentQueueURL string

	// Retry-queue sweeper.
	SweepInterval   time.Duration
	QueueMaxRetries int

	// Fulfillment executor.
	FulfillmentBatchSize  int
	FulfillmentMaxRetries int

	// Tracking reconciler.
	ReconcileInterval time.Duration
	StorefrontURL     string
	StorefrontToken   string

	// CloudWatch namespace for counters.
	MetricsNamespace string
}

// FromEnv builds Settings from environment variables, falling back to defaults.
func FromEnv() Settings {
	return Settings{
		Mode:           envStr("APP_MODE", "dev"),
		GatewayURL:     envStr("GATEWAY_URL", ""),
		ClientID:       envStr("CLIENT_ID", "shopopti-importer"),
		ClientVersion:  envStr("CLIENT_VERSION", "5.8.1"),
		RequestTimeout: envDur("REQUEST_TIMEOUT", 30*time.Second),

		RetryQueueTable:       envStr("RETRY_QUEUE_TABLE", "pending_actions"),
		OrdersTable:           envStr("ORDERS_TABLE", "orders"),
		FulfillmentQueueTable: envStr("FULFILLMENT_QUEUE_TABLE", "auto_order_queue"),
		SupplierMappingTable:  envStr("SUPPLIER_MAPPING_TABLE", "supplier_products"),
		SupplierVaultTable:    envStr("SUPPLIER_VAULT_TABLE", "supplier_credentials"),
		ShipmentsTable:        envStr("SHIPMENTS_TABLE", "shipments"),

		FulfillmentQueueURL: envStr("FULFILLMENT_QUEUE_URL", ""),

		SweepInterval:   envDur("SWEEP_INTERVAL", 30*time.Second),
		QueueMaxRetries: envInt("QUEUE_MAX_RETRIES", 3),

		FulfillmentBatchSize:  envInt("FULFILLMENT_BATCH_SIZE", 10),
		FulfillmentMaxRetries: envInt("FULFILLMENT_MAX_RETRIES", 3),

		ReconcileInterval: envDur("RECONCILE_INTERVAL", 5*time.Minute),
		StorefrontURL:     envStr("STOREFRONT_URL", ""),
		StorefrontToken:   envStr("STOREFRONT_TOKEN", ""),

		MetricsNamespace: envStr("METRICS_NAMESPACE", "ShopOpti/Pipeline"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
