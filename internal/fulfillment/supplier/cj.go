package supplier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

const cjDefaultBaseURL = "https://developers.cjdropshipping.com/api2.0/v1"

// CJ talks to the CJDropshipping v2 API. Authentication is the access token
// in the CJ-Access-Token header.
type CJ struct {
	BaseURL string
	http    *http.Client
}

func NewCJ() *CJ {
	return &CJ{BaseURL: cjDefaultBaseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *CJ) Type() string { return "cj" }

type cjResponse struct {
	Result  bool            `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *CJ) PlaceOrder(ctx context.Context, creds Credentials, items []OrderItem, addr ShippingAddress) (Placement, error) {
	products := make([]map[string]any, 0, len(items))
	for _, item := range items {
		products = append(products, map[string]any{
			"vid":      item.SupplierVariantID,
			"quantity": item.Quantity,
		})
	}
	payload := map[string]any{
		"orderNumber":          fmt.Sprintf("so-%d", time.Now().UnixNano()),
		"shippingCountryCode":  addr.CountryCode,
		"shippingProvince":     addr.Province,
		"shippingCity":         addr.City,
		"shippingAddress":      addr.Address1 + " " + addr.Address2,
		"shippingCustomerName": addr.Name,
		"shippingZip":          addr.Zip,
		"shippingPhone":        addr.Phone,
		"products":             products,
	}

	var data struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, creds, "/shopping/order/createOrder", payload, &data); err != nil {
		return Placement{}, err
	}
	if data.OrderID == "" {
		return Placement{}, fmt.Errorf("cj: order created without an order id")
	}
	return Placement{SupplierOrderID: data.OrderID}, nil
}

func (c *CJ) GetTracking(ctx context.Context, creds Credentials, supplierOrderID string) (Tracking, error) {
	var data struct {
		TrackNumber  string `json:"trackNumber"`
		LogisticName string `json:"logisticName"`
		OrderStatus  string `json:"orderStatus"`
	}
	if err := c.call(ctx, creds, "/shopping/order/getOrderDetail?orderId="+supplierOrderID, nil, &data); err != nil {
		return Tracking{}, err
	}
	return Tracking{
		TrackingNumber: data.TrackNumber,
		Carrier:        data.LogisticName,
		Status:         data.OrderStatus,
	}, nil
}

func (c *CJ) call(ctx context.Context, creds Credentials, path string, payload any, out any) error {
	method := http.MethodGet
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("cj: marshal request: %w", err)
		}
		method = http.MethodPost
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("cj: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("CJ-Access-Token", creds.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cj: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cj: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cj: http %d: %s", resp.StatusCode, raw)
	}
	var envelope cjResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("cj: decode response: %w", err)
	}
	if !envelope.Result {
		return fmt.Errorf("cj: api error: %s", envelope.Message)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("cj: decode data: %w", err)
		}
	}
	return nil
}
