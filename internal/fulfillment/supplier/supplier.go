// Package supplier defines the adapter contract for placing orders with
// upstream suppliers and the concrete adapters for each supported platform.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Credentials is the per-supplier secret material loaded from the vault.
type Credentials struct {
	APIKey      string `dynamodbav:"api_key,omitempty" json:"api_key,omitempty"`
	APISecret   string `dynamodbav:"api_secret,omitempty" json:"api_secret,omitempty"`
	AccessToken string `dynamodbav:"access_token,omitempty" json:"access_token,omitempty"`
}

// Empty reports whether no usable secret is present.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == "" && c.AccessToken == ""
}

// OrderItem is one line of a supplier order.
type OrderItem struct {
	SupplierProductID string
	SupplierVariantID string
	SupplierSKU       string
	Quantity          int
}

// ShippingAddress is the destination for a supplier order.
type ShippingAddress struct {
	Name        string
	Phone       string
	Email       string
	Address1    string
	Address2    string
	City        string
	Province    string
	Zip         string
	CountryCode string
}

// Placement is the supplier's acknowledgement of a placed order.
type Placement struct {
	SupplierOrderID   string
	TrackingNumber    string
	Carrier           string
	EstimatedDelivery time.Time
}

// Tracking is the shipment state reported by a supplier.
type Tracking struct {
	TrackingNumber    string
	Carrier           string
	Status            string
	EstimatedDelivery time.Time
}

// ErrNotSupported marks operations a supplier's API does not offer.
var ErrNotSupported = errors.New("operation not supported by supplier")

// Adapter places orders with one supplier platform. Implementations are
// stateless; credentials arrive per call so one adapter serves many stores.
type Adapter interface {
	Type() string
	PlaceOrder(ctx context.Context, creds Credentials, items []OrderItem, addr ShippingAddress) (Placement, error)
	GetTracking(ctx context.Context, creds Credentials, supplierOrderID string) (Tracking, error)
}

// Registry resolves adapters by supplier type. Unknown suppliers fall back to
// the generic adapter when one is registered under "generic".
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

func (r *Registry) Resolve(supplierType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[supplierType]; ok {
		return a, nil
	}
	if a, ok := r.adapters["generic"]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for supplier %q", supplierType)
}

// DefaultRegistry wires every built-in adapter.
func DefaultRegistry() *Registry {
	return NewRegistry(NewCJ(), NewBigBuy(), NewAliExpress(), NewGeneric())
}
