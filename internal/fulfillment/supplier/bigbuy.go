package supplier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

const bigbuyDefaultBaseURL = "https://api.bigbuy.eu/rest"

// BigBuy talks to the BigBuy REST API with bearer authentication.
type BigBuy struct {
	BaseURL string
	http    *http.Client
}

func NewBigBuy() *BigBuy {
	return &BigBuy{BaseURL: bigbuyDefaultBaseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (b *BigBuy) Type() string { return "bigbuy" }

func (b *BigBuy) PlaceOrder(ctx context.Context, creds Credentials, items []OrderItem, addr ShippingAddress) (Placement, error) {
	products := make([]map[string]any, 0, len(items))
	for _, item := range items {
		products = append(products, map[string]any{
			"reference": item.SupplierSKU,
			"quantity":  item.Quantity,
		})
	}
	payload := map[string]any{
		"order": map[string]any{
			"internalReference": fmt.Sprintf("so-%d", time.Now().UnixNano()),
			"cashOnDelivery":    false,
			"shippingAddress": map[string]any{
				"firstName": addr.Name,
				"country":   addr.CountryCode,
				"postcode":  addr.Zip,
				"town":      addr.City,
				"address":   addr.Address1 + " " + addr.Address2,
				"phone":     addr.Phone,
				"email":     addr.Email,
				"comment":   "",
			},
			"products": products,
		},
	}

	var out struct {
		OrderID int `json:"order_id"`
	}
	if err := b.call(ctx, creds, http.MethodPost, "/order/create.json", payload, &out); err != nil {
		return Placement{}, err
	}
	if out.OrderID == 0 {
		return Placement{}, fmt.Errorf("bigbuy: order created without an order id")
	}
	return Placement{SupplierOrderID: strconv.Itoa(out.OrderID)}, nil
}

func (b *BigBuy) GetTracking(ctx context.Context, creds Credentials, supplierOrderID string) (Tracking, error) {
	var out struct {
		Trackings []struct {
			TrackingNumber string `json:"trackingNumber"`
			Carrier        struct {
				Name string `json:"name"`
			} `json:"carrier"`
			StatusDescription string `json:"statusDescription"`
		} `json:"trackings"`
	}
	if err := b.call(ctx, creds, http.MethodGet, "/tracking/order/"+supplierOrderID+".json", nil, &out); err != nil {
		return Tracking{}, err
	}
	if len(out.Trackings) == 0 {
		return Tracking{}, nil
	}
	first := out.Trackings[0]
	return Tracking{
		TrackingNumber: first.TrackingNumber,
		Carrier:        first.Carrier.Name,
		Status:         first.StatusDescription,
	}, nil
}

func (b *BigBuy) call(ctx context.Context, creds Credentials, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("bigbuy: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("bigbuy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("bigbuy: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bigbuy: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bigbuy: http %d: %s", resp.StatusCode, raw)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("bigbuy: decode response: %w", err)
		}
	}
	return nil
}
