package tracking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
)

// CredentialSource loads supplier credentials for tracking pulls. Satisfied
// by the fulfillment vault.
type CredentialSource interface {
	Credentials(ctx context.Context, supplierType string) (supplier.Credentials, error)
}

// Storefront pushes tracking details to the merchant's shop.
type Storefront interface {
	UpdateTracking(ctx context.Context, rec ShipmentRecord) error
}

// Stats summarises one reconciler pass.
type Stats struct {
	Pulled int
	Pushed int
}

// Reconciler runs the two tracking passes: pull fresh tracking numbers from
// suppliers, then push unsynced ones to the storefront.
type Reconciler struct {
	store      *Store
	registry   *supplier.Registry
	creds      CredentialSource
	storefront Storefront
	metrics    *awsx.Metrics
	batch      int
	log        *logging.Logger
}

func NewReconciler(store *Store, registry *supplier.Registry, creds CredentialSource, storefront Storefront, metrics *awsx.Metrics, log *logging.Logger) *Reconciler {
	if log == nil {
		log = logging.NewNop()
	}
	if registry == nil {
		registry = supplier.DefaultRegistry()
	}
	return &Reconciler{
		store:      store,
		registry:   registry,
		creds:      creds,
		storefront: storefront,
		metrics:    metrics,
		batch:      25,
		log:        log,
	}
}

// Run reconciles on a fixed period until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error("tracking reconcile", "error", err)
			}
		}
	}
}

// ReconcileOnce runs one pull pass and one push pass. Per-shipment failures
// are logged and skipped so one bad record cannot stall the rest.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	pending, err := r.store.PendingPull(ctx, r.batch)
	if err != nil {
		return stats, err
	}
	for _, rec := range pending {
		if r.pull(ctx, rec) {
			stats.Pulled++
		}
	}

	unsynced, err := r.store.PendingPush(ctx, r.batch)
	if err != nil {
		return stats, err
	}
	for _, rec := range unsynced {
		if r.push(ctx, rec) {
			stats.Pushed++
		}
	}

	_ = r.metrics.Count(ctx, "TrackingPulled", float64(stats.Pulled))
	_ = r.metrics.Count(ctx, "TrackingPushed", float64(stats.Pushed))
	return stats, nil
}

func (r *Reconciler) pull(ctx context.Context, rec ShipmentRecord) bool {
	adapter, err := r.registry.Resolve(rec.Supplier)
	if err != nil {
		r.log.Warn("resolve adapter", "order_id", rec.OrderID, "supplier", rec.Supplier, "error", err)
		return false
	}

	var creds supplier.Credentials
	if r.creds != nil {
		if creds, err = r.creds.Credentials(ctx, rec.Supplier); err != nil {
			creds = supplier.Credentials{}
		}
	}

	tr, err := adapter.GetTracking(ctx, creds, rec.SupplierOrderID)
	if err != nil {
		if !errors.Is(err, supplier.ErrNotSupported) {
			r.log.Warn("pull tracking", "order_id", rec.OrderID, "supplier", rec.Supplier, "error", err)
		}
		return false
	}
	if tr.TrackingNumber == "" {
		return false
	}

	if err := r.store.SetTracking(ctx, rec.OrderID, tr.TrackingNumber, tr.Carrier, tr.Status); err != nil {
		r.log.Error("store tracking", "order_id", rec.OrderID, "error", err)
		return false
	}
	r.log.Info("tracking received", "order_id", rec.OrderID, "tracking_number", tr.TrackingNumber, "carrier", tr.Carrier)
	return true
}

func (r *Reconciler) push(ctx context.Context, rec ShipmentRecord) bool {
	if r.storefront == nil {
		return false
	}
	if err := r.storefront.UpdateTracking(ctx, rec); err != nil {
		r.log.Warn("push tracking", "order_id", rec.OrderID, "error", err)
		return false
	}
	if err := r.store.MarkSynced(ctx, rec.OrderID); err != nil {
		if errors.Is(err, ErrAlreadySynced) {
			return false
		}
		r.log.Error("mark synced", "order_id", rec.OrderID, "error", err)
		return false
	}
	r.log.Info("tracking synced to storefront", "order_id", rec.OrderID, "tracking_number", rec.TrackingNumber)
	return true
}

// ShopifyStorefront creates fulfillments with tracking info through the
// Shopify Admin REST API.
type ShopifyStorefront struct {
	ShopURL     string
	AccessToken string
	http        *http.Client
}

func NewShopifyStorefront(shopURL, accessToken string) *ShopifyStorefront {
	return &ShopifyStorefront{
		ShopURL:     shopURL,
		AccessToken: accessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ShopifyStorefront) UpdateTracking(ctx context.Context, rec ShipmentRecord) error {
	payload := map[string]any{
		"fulfillment": map[string]any{
			"notify_customer": true,
			"tracking_info": map[string]any{
				"number":  rec.TrackingNumber,
				"company": rec.Carrier,
			},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shopify: marshal fulfillment: %w", err)
	}

	url := fmt.Sprintf("%s/admin/api/2024-01/orders/%s/fulfillments.json", s.ShopURL, rec.OrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("shopify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", s.AccessToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("shopify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shopify: http %d: %s", resp.StatusCode, body)
	}
	return nil
}
