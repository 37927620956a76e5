package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
)

// credentialFree lists suppliers whose adapters place orders without vault
// credentials (manual/acknowledge-only flows).
var credentialFree = map[string]bool{
	"generic":    true,
	"aliexpress": true,
}

// ShipmentRecorder receives successful placements so the tracking reconciler
// can follow them. Implemented by the tracking store.
type ShipmentRecorder interface {
	RecordPlacement(ctx context.Context, orderID, supplierType, supplierOrderID, trackingNumber, carrier string, estimatedDelivery time.Time) error
}

// ExecStats summarises one sweep over the fulfillment queue.
type ExecStats struct {
	Attempted int
	Completed int
	Deferred  int
	Failed    int
	Waiting   int
}

// Executor drives claimed queue items through the supplier adapters. It
// places from the line snapshot taken at enqueue, never re-resolving
// mappings.
type Executor struct {
	orders    *OrderStore
	queue     *QueueStore
	vault     Vault
	registry  *supplier.Registry
	shipments ShipmentRecorder
	policy    retry.Policy
	metrics   *awsx.Metrics
	batch     int
	log       *logging.Logger
	nowFunc   func() time.Time
}

type ExecutorConfig struct {
	Orders    *OrderStore
	Queue     *QueueStore
	Vault     Vault
	Registry  *supplier.Registry
	Shipments ShipmentRecorder
	Policy    retry.Policy
	Metrics   *awsx.Metrics
	BatchSize int
	Logger    *logging.Logger
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = supplier.DefaultRegistry()
	}
	return &Executor{
		orders:    cfg.Orders,
		queue:     cfg.Queue,
		vault:     cfg.Vault,
		registry:  cfg.Registry,
		shipments: cfg.Shipments,
		policy:    cfg.Policy,
		metrics:   cfg.Metrics,
		batch:     cfg.BatchSize,
		log:       cfg.Logger,
		nowFunc:   time.Now,
	}
}

// Execute processes one queue item end to end. Losing the claim race or
// finding the item in a non-pending state is not an error.
func (e *Executor) Execute(ctx context.Context, orderID string) (ExecStats, error) {
	var stats ExecStats

	item, err := e.queue.Get(ctx, orderID)
	if err != nil {
		return stats, err
	}
	if item.Status != StatusPending {
		return stats, nil
	}
	if err := e.queue.MarkProcessing(ctx, orderID); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return stats, nil
		}
		return stats, err
	}
	stats.Attempted = 1

	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return e.retryOrFail(ctx, item, stats, err)
	}

	creds, err := e.vault.Credentials(ctx, item.Supplier)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) && !credentialFree[item.Supplier] {
			// Waiting on the merchant, not on the supplier: no retry consumed.
			next := e.nowFunc().Add(e.policy.Base)
			if err := e.queue.DemoteToPending(ctx, orderID, next, "waiting for supplier credentials"); err != nil {
				return stats, err
			}
			e.log.Warn("fulfillment waiting for credentials", "order_id", orderID, "supplier", item.Supplier)
			stats.Waiting = 1
			return stats, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			return e.retryOrFail(ctx, item, stats, err)
		}
		creds = supplier.Credentials{}
	}

	items := placementLines(item)
	if len(items) == 0 {
		if err := e.queue.MarkFailed(ctx, orderID, ErrNoSupplierMapping.Error()); err != nil {
			return stats, err
		}
		stats.Failed = 1
		return stats, nil
	}

	adapter, err := e.registry.Resolve(item.Supplier)
	if err != nil {
		if err := e.queue.MarkFailed(ctx, orderID, err.Error()); err != nil {
			return stats, err
		}
		stats.Failed = 1
		return stats, nil
	}

	placement, err := adapter.PlaceOrder(ctx, creds, items, shippingAddress(order))
	if err != nil {
		return e.retryOrFail(ctx, item, stats, err)
	}

	if err := e.queue.MarkCompleted(ctx, orderID, placement.SupplierOrderID); err != nil {
		return stats, err
	}
	if err := e.orders.SetFulfillmentStatus(ctx, orderID, StatusCompleted); err != nil {
		e.log.Error("mirror order status", "order_id", orderID, "error", err)
	}
	if e.shipments != nil {
		if err := e.shipments.RecordPlacement(ctx, orderID, item.Supplier, placement.SupplierOrderID,
			placement.TrackingNumber, placement.Carrier, placement.EstimatedDelivery); err != nil {
			e.log.Error("record shipment", "order_id", orderID, "error", err)
		}
	}
	_ = e.metrics.Count(ctx, "FulfillmentCompleted", 1)
	e.log.Info("supplier order placed",
		"order_id", orderID, "supplier", item.Supplier, "supplier_order_id", placement.SupplierOrderID)
	stats.Completed = 1
	return stats, nil
}

// Sweep picks up due pending items, oldest first, one batch per call.
func (e *Executor) Sweep(ctx context.Context) (ExecStats, error) {
	due, err := e.queue.Due(ctx, e.nowFunc(), e.batch)
	if err != nil {
		return ExecStats{}, err
	}
	var total ExecStats
	for _, item := range due {
		stats, err := e.Execute(ctx, item.OrderID)
		if err != nil {
			e.log.Error("execute fulfillment", "order_id", item.OrderID, "error", err)
			continue
		}
		total.Attempted += stats.Attempted
		total.Completed += stats.Completed
		total.Deferred += stats.Deferred
		total.Failed += stats.Failed
		total.Waiting += stats.Waiting
	}
	return total, nil
}

// Run sweeps on a fixed period until the context is cancelled.
func (e *Executor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil {
				e.log.Error("fulfillment sweep", "error", err)
			}
		}
	}
}

// retryOrFail reschedules a failed attempt, or fails the item for good once
// the retry budget is spent.
func (e *Executor) retryOrFail(ctx context.Context, item QueueItem, stats ExecStats, cause error) (ExecStats, error) {
	rc := item.RetryCount + 1
	if e.policy.Exhausted(rc) {
		if err := e.queue.MarkFailed(ctx, item.OrderID, cause.Error()); err != nil {
			return stats, err
		}
		_ = e.metrics.Count(ctx, "FulfillmentFailed", 1)
		e.log.Error("fulfillment abandoned", "order_id", item.OrderID, "retry_count", rc, "error", cause)
		stats.Failed = 1
		return stats, nil
	}
	next := e.nowFunc().Add(e.policy.Delay(rc))
	if err := e.queue.ScheduleRetry(ctx, item.OrderID, rc, next, cause.Error()); err != nil {
		return stats, err
	}
	e.log.Warn("fulfillment deferred", "order_id", item.OrderID, "retry_count", rc, "error", cause)
	stats.Deferred = 1
	return stats, nil
}

// placementLines converts the intake snapshot into supplier order lines.
func placementLines(item QueueItem) []supplier.OrderItem {
	items := make([]supplier.OrderItem, 0, len(item.Items))
	for _, line := range item.Items {
		items = append(items, supplier.OrderItem{
			SupplierProductID: line.SupplierProductID,
			SupplierVariantID: line.SupplierVariantID,
			SupplierSKU:       line.SupplierSKU,
			Quantity:          line.Quantity,
		})
	}
	return items
}

func shippingAddress(order Order) supplier.ShippingAddress {
	return supplier.ShippingAddress{
		Name:        order.ShippingAddress.Name,
		Phone:       order.ShippingAddress.Phone,
		Email:       order.ShippingAddress.Email,
		Address1:    order.ShippingAddress.Address1,
		Address2:    order.ShippingAddress.Address2,
		City:        order.ShippingAddress.City,
		Province:    order.ShippingAddress.Province,
		Zip:         order.ShippingAddress.Zip,
		CountryCode: order.ShippingAddress.CountryCode,
	}
}
