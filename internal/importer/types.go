package importer

// RawListing is the unprocessed result of scraping or API-extracting a
// product page. Fields is deliberately loose; the normalizer owns coercion.
type RawListing struct {
	SourceURL string
	Platform  string
	Fields    map[string]any
}

// NormalizedProduct is the canonical product snapshot produced by normalization
// and consumed by validation and commit.
type NormalizedProduct struct {
	ExternalID  string   `json:"external_id,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	Images      []string `json:"images"`
	Videos      []string `json:"videos,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Decision is the validator's verdict for a normalized product.
type Decision string

const (
	DecisionImport Decision = "import"
	DecisionDraft  Decision = "draft"
	DecisionBlock  Decision = "block"
)

// FieldFailure names one field that failed a validation rule.
type FieldFailure struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Report is the immutable outcome of scoring a normalized product.
// CanImport is true iff no critical failure exists.
type Report struct {
	Score            int            `json:"score"`
	CriticalFailures []FieldFailure `json:"critical_failures,omitempty"`
	Warnings         []FieldFailure `json:"warnings,omitempty"`
	MissingFields    []string       `json:"missing_fields,omitempty"`
	Decision         Decision       `json:"decision"`
	CanImport        bool           `json:"can_import"`
	ShouldDraft      bool           `json:"should_draft,omitempty"`
	DraftReason      string         `json:"draft_reason,omitempty"`
}

// BlockReason renders the human-readable reason attached to a blocked import.
func (r Report) BlockReason() string {
	if len(r.MissingFields) == 0 {
		return "product failed critical validation"
	}
	reason := "missing critical fields:"
	for _, f := range r.MissingFields {
		reason += " " + f
	}
	return reason
}
