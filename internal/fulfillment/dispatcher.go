// Package fulfillment turns paid storefront orders into supplier purchases:
// the dispatcher claims a per-order queue slot and the executor drives claimed
// slots through the supplier adapters with retry bookkeeping.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
)

// ErrNoSupplierMapping means no line item could be linked to a supplier
// listing. This is a data problem, never retried.
var ErrNoSupplierMapping = errors.New("no supplier mapping for any line item")

// QueueMessage is the SQS hand-off between the dispatcher and the worker.
type QueueMessage struct {
	OrderID  string `json:"order_id"`
	Supplier string `json:"supplier"`
}

// Dispatcher admits orders into the fulfillment queue.
type Dispatcher struct {
	orders    *OrderStore
	mappings  *MappingStore
	queue     *QueueStore
	publisher *awsx.Publisher
	metrics   *awsx.Metrics
	log       *logging.Logger
}

func NewDispatcher(orders *OrderStore, mappings *MappingStore, queue *QueueStore, publisher *awsx.Publisher, metrics *awsx.Metrics, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{orders: orders, mappings: mappings, queue: queue, publisher: publisher, metrics: metrics, log: log}
}

// Enqueue resolves the order's line items against the supplier catalog and
// claims its queue slot, snapshotting the resolved lines onto the item. A
// second call for the same order while the first is still active returns
// ErrAlreadyQueued without side effects.
func (d *Dispatcher) Enqueue(ctx context.Context, orderID string) (QueueItem, error) {
	order, err := d.orders.Get(ctx, orderID)
	if err != nil {
		return QueueItem{}, err
	}

	supplierType, lines, err := d.resolveLines(ctx, order)
	if err != nil {
		return QueueItem{}, err
	}

	item := QueueItem{OrderID: orderID, Supplier: supplierType, Items: lines}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			d.log.Info("order already queued", "order_id", orderID)
		}
		return QueueItem{}, err
	}
	_ = d.metrics.Count(ctx, "FulfillmentEnqueued", 1)
	d.log.Info("order queued for fulfillment", "order_id", orderID, "supplier", supplierType)

	// The SQS hand-off wakes the worker promptly; the pending-scan sweep picks
	// the item up anyway if the message is lost.
	if d.publisher != nil {
		body, err := json.Marshal(QueueMessage{OrderID: orderID, Supplier: supplierType})
		if err == nil {
			if err := d.publisher.Send(ctx, string(body), map[string]string{"supplier": supplierType}); err != nil {
				d.log.Warn("publish fulfillment message", "order_id", orderID, "error", err)
			}
		}
	}

	return d.queue.Get(ctx, orderID)
}

// resolveLines maps every line item to its supplier listing at intake. The
// first mappable line fixes the supplier for the whole order; lines mapped to
// a different supplier (or not mapped at all) are skipped with a warning.
// Placement later runs from the returned snapshot, so mapping edits after
// intake cannot reshape an admitted order.
func (d *Dispatcher) resolveLines(ctx context.Context, order Order) (string, []QueueLine, error) {
	var (
		supplierType string
		lines        []QueueLine
	)
	for _, item := range order.Items {
		m, err := d.mappings.Resolve(ctx, item)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return "", nil, err
		}
		if supplierType == "" {
			supplierType = m.Supplier
		}
		if m.Supplier != supplierType {
			d.log.Warn("line item mapped to different supplier, skipped",
				"order_id", order.OrderID, "product_id", item.ProductID, "supplier", m.Supplier)
			continue
		}
		lines = append(lines, QueueLine{
			SupplierProductID: m.SupplierProductID,
			SupplierVariantID: m.SupplierVariantID,
			SupplierSKU:       m.SupplierSKU,
			Quantity:          item.Quantity,
		})
	}
	if supplierType == "" {
		return "", nil, fmt.Errorf("order %s: %w", order.OrderID, ErrNoSupplierMapping)
	}
	return supplierType, lines, nil
}
