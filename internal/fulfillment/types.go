package fulfillment

import "time"

// Queue item statuses. pending and processing are active; the rest are
// terminal and release the per-order slot.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// TerminalStatus reports whether a queue item status admits no further work.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Address is the shipping destination carried on an order.
type Address struct {
	Name        string `dynamodbav:"name" json:"name"`
	Phone       string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Email       string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Address1    string `dynamodbav:"address1" json:"address1"`
	Address2    string `dynamodbav:"address2,omitempty" json:"address2,omitempty"`
	City        string `dynamodbav:"city" json:"city"`
	Province    string `dynamodbav:"province,omitempty" json:"province,omitempty"`
	Zip         string `dynamodbav:"zip" json:"zip"`
	CountryCode string `dynamodbav:"country_code" json:"country_code"`
}

// LineItem is one purchased product line on a storefront order.
type LineItem struct {
	SKU       string  `dynamodbav:"sku,omitempty" json:"sku,omitempty"`
	ProductID string  `dynamodbav:"product_id,omitempty" json:"product_id,omitempty"`
	VariantID string  `dynamodbav:"variant_id,omitempty" json:"variant_id,omitempty"`
	Title     string  `dynamodbav:"title" json:"title"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	Price     float64 `dynamodbav:"price" json:"price"`
}

// Order is the storefront order persisted in the orders table.
type Order struct {
	OrderID           string     `dynamodbav:"order_id" json:"order_id"` // PK
	StorefrontID      string     `dynamodbav:"storefront_id,omitempty" json:"storefront_id,omitempty"`
	Number            string     `dynamodbav:"number,omitempty" json:"number,omitempty"`
	Items             []LineItem `dynamodbav:"items" json:"items"`
	ShippingAddress   Address    `dynamodbav:"shipping_address" json:"shipping_address"`
	Total             float64    `dynamodbav:"total" json:"total"`
	Currency          string     `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	FulfillmentStatus string     `dynamodbav:"fulfillment_status,omitempty" json:"fulfillment_status,omitempty"`
	CreatedAt         time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `dynamodbav:"updated_at" json:"updated_at"`
}

// QueueLine is one order line resolved against the chosen supplier at intake.
// Executors place from this snapshot, so a mapping edited or deleted after
// the order was admitted cannot reshape or fail the placement.
type QueueLine struct {
	SupplierProductID string `dynamodbav:"supplier_product_id" json:"supplier_product_id"`
	SupplierVariantID string `dynamodbav:"supplier_variant_id,omitempty" json:"supplier_variant_id,omitempty"`
	SupplierSKU       string `dynamodbav:"supplier_sku,omitempty" json:"supplier_sku,omitempty"`
	Quantity          int    `dynamodbav:"quantity" json:"quantity"`
}

// QueueItem is one order's slot in the fulfillment queue. The table is keyed
// by order_id so at most one active placement exists per order.
type QueueItem struct {
	OrderID         string      `dynamodbav:"order_id" json:"order_id"` // PK
	Supplier        string      `dynamodbav:"supplier" json:"supplier"`
	Items           []QueueLine `dynamodbav:"items" json:"items"`
	Status          string      `dynamodbav:"status" json:"status"`
	RetryCount      int         `dynamodbav:"retry_count" json:"retry_count"`
	NextAttemptAt   int64       `dynamodbav:"next_attempt_at" json:"next_attempt_at"` // epoch millis
	LastError       string      `dynamodbav:"last_error,omitempty" json:"last_error,omitempty"`
	SupplierOrderID string      `dynamodbav:"supplier_order_id,omitempty" json:"supplier_order_id,omitempty"`
	CreatedAt       time.Time   `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `dynamodbav:"updated_at" json:"updated_at"`
}

// SupplierMapping links a storefront product or SKU to its supplier listing.
type SupplierMapping struct {
	ProductID         string `dynamodbav:"product_id" json:"product_id"` // PK
	SKU               string `dynamodbav:"sku,omitempty" json:"sku,omitempty"`
	Supplier          string `dynamodbav:"supplier" json:"supplier"`
	SupplierProductID string `dynamodbav:"supplier_product_id" json:"supplier_product_id"`
	SupplierVariantID string `dynamodbav:"supplier_variant_id,omitempty" json:"supplier_variant_id,omitempty"`
	SupplierSKU       string `dynamodbav:"supplier_sku,omitempty" json:"supplier_sku,omitempty"`
}
