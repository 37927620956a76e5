package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the claimed order total must equal the sum of its line items
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation compares the item sum against Total in cents so
// float rounding cannot produce spurious mismatches.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	var sum float64
	for _, it := range req.Items {
		sum += float64(it.Quantity) * it.Price
	}

	sumCents := int(math.Round(sum * 100))
	totalCents := int(math.Round(req.Total * 100))
	if sumCents != totalCents {
		sl.ReportError(req.Total, "total", "Total", "total_match_items",
			fmt.Sprintf("items sum %.2f != total %.2f", sum, req.Total))
	}
}
