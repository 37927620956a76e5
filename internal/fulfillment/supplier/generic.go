package supplier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Generic is the fallback adapter for suppliers without an API integration.
// It records a manual placement so the queue item completes and the merchant
// sees the order in their dashboard.
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) Type() string { return "generic" }

func (g *Generic) PlaceOrder(ctx context.Context, creds Credentials, items []OrderItem, addr ShippingAddress) (Placement, error) {
	if len(items) == 0 {
		return Placement{}, fmt.Errorf("generic: order has no items")
	}
	return Placement{SupplierOrderID: "manual-" + uuid.NewString()}, nil
}

func (g *Generic) GetTracking(ctx context.Context, creds Credentials, supplierOrderID string) (Tracking, error) {
	return Tracking{}, ErrNotSupported
}
