package validation

// Item is a single order line in an order creation request.
type Item struct {
	SKU       string  `json:"sku,omitempty"`
	ProductID string  `json:"product_id,omitempty"`
	Title     string  `json:"title" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	Price     float64 `json:"price" validate:"required,gt=0"`
}

// AddressPayload is the shipping destination in an order creation request.
type AddressPayload struct {
	Name        string `json:"name" validate:"required"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Address1    string `json:"address1" validate:"required"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city" validate:"required"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip" validate:"required"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	Number          string         `json:"number,omitempty"`
	Items           []Item         `json:"items" validate:"required,min=1,dive"`
	ShippingAddress AddressPayload `json:"shipping_address" validate:"required"`
	Total           float64        `json:"total" validate:"required,gt=0"`
	Currency        string         `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// ImportRequest is the payload for POST /imports.
type ImportRequest struct {
	URL             string `json:"url" validate:"required,url"`
	Silent          bool   `json:"silent,omitempty"`
	ForceFullImport bool   `json:"force_full_import,omitempty"`
}

// BulkImportRequest is the payload for POST /imports/bulk.
type BulkImportRequest struct {
	URLs        []string `json:"urls" validate:"required,min=1,max=500,dive,url"`
	Concurrency int      `json:"concurrency,omitempty" validate:"omitempty,min=1,max=10"`
}

// ConnectSupplierRequest is the payload for PUT /suppliers/:type/credentials.
type ConnectSupplierRequest struct {
	APIKey      string `json:"api_key,omitempty"`
	APISecret   string `json:"api_secret,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}
