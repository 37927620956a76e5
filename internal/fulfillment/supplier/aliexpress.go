package supplier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AliExpress covers the dropshipping API. Order placement there requires an
// OAuth app review that most installs have not completed, so this adapter
// acknowledges the order locally and leaves placement to the merchant's
// AliExpress account; tracking lookups are not available without the app.
type AliExpress struct{}

func NewAliExpress() *AliExpress { return &AliExpress{} }

func (a *AliExpress) Type() string { return "aliexpress" }

func (a *AliExpress) PlaceOrder(ctx context.Context, creds Credentials, items []OrderItem, addr ShippingAddress) (Placement, error) {
	if len(items) == 0 {
		return Placement{}, fmt.Errorf("aliexpress: order has no items")
	}
	return Placement{SupplierOrderID: "ae-manual-" + uuid.NewString()}, nil
}

func (a *AliExpress) GetTracking(ctx context.Context, creds Credentials, supplierOrderID string) (Tracking, error) {
	return Tracking{}, ErrNotSupported
}
