package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/shopopti/go-import-fulfillment/internal/retry"
	"github.com/shopopti/go-import-fulfillment/internal/transport"
)

// The pipeline is assembled from four injected capabilities. Each stage is a
// separate interface so deployments can mix local and gateway-backed
// implementations.

type Extractor interface {
	Extract(ctx context.Context, url string) (RawListing, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, raw RawListing) (NormalizedProduct, error)
}

type Validator interface {
	Validate(ctx context.Context, product NormalizedProduct) (Report, error)
}

// CommitOptions tunes one commit.
type CommitOptions struct {
	AsDraft     bool
	DraftReason string
	Metadata    map[string]string
}

// Receipt is the proof of a commit. Queued means the write was handed to the
// durable retry queue rather than acknowledged synchronously; it will be
// delivered under the same idempotency key.
type Receipt struct {
	ProductID string
	Queued    bool
	RequestID string
}

type Committer interface {
	Commit(ctx context.Context, product NormalizedProduct, opts CommitOptions) (Receipt, error)
}

// GatewayExtractor asks the backend's extraction service for the listing
// instead of scraping locally.
type GatewayExtractor struct {
	Client *transport.Client
}

func (e *GatewayExtractor) Extract(ctx context.Context, url string) (RawListing, error) {
	out, err := e.Client.Send(ctx, "EXTRACT_PRODUCT", map[string]any{"url": url}, transport.Options{SkipQueue: true})
	if err != nil {
		return RawListing{}, err
	}
	if !out.OK {
		return RawListing{}, fmt.Errorf("extract %s: %s (%s)", url, out.Message, out.Code)
	}
	var raw RawListing
	raw.SourceURL = url
	if err := json.Unmarshal(out.Data, &raw.Fields); err != nil {
		return RawListing{}, fmt.Errorf("decode extraction payload: %w", err)
	}
	if platform, ok := raw.Fields["platform"].(string); ok {
		raw.Platform = platform
	}
	return raw, nil
}

// FieldNormalizer coerces loosely-typed extraction fields into the canonical
// product shape. Strings are trimmed implicitly by the extractor; prices may
// arrive as numbers or numeric strings.
type FieldNormalizer struct{}

func (FieldNormalizer) Normalize(ctx context.Context, raw RawListing) (NormalizedProduct, error) {
	p := NormalizedProduct{
		Platform:  raw.Platform,
		SourceURL: raw.SourceURL,
		Currency:  "USD",
	}
	p.ExternalID = stringField(raw.Fields, "external_id", "id", "product_id")
	p.Title = stringField(raw.Fields, "title", "name", "subject")
	p.Description = stringField(raw.Fields, "description", "body_html")
	p.Brand = stringField(raw.Fields, "brand", "vendor")
	if c := stringField(raw.Fields, "currency"); c != "" {
		p.Currency = c
	}
	p.Price = numberField(raw.Fields, "price", "sale_price", "min_price")
	p.Images = stringsField(raw.Fields, "images", "image_urls")
	p.Videos = stringsField(raw.Fields, "videos")
	p.Tags = stringsField(raw.Fields, "tags", "keywords")
	if p.Title == "" && p.ExternalID == "" {
		return NormalizedProduct{}, errors.New("extraction produced no identifiable product")
	}
	return p, nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func numberField(fields map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			if v > 0 {
				return v
			}
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%f", &f); err == nil && f > 0 {
				return f
			}
		}
	}
	return 0
}

func stringsField(fields map[string]any, keys ...string) []string {
	for _, k := range keys {
		list, ok := fields[k].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// GatewayCommitter delivers the final import through the transport client. The
// synchronous attempt is retried inline a few times; if the gateway stays
// unreachable the last attempt falls through to the durable queue, so the
// write is never lost.
type GatewayCommitter struct {
	Client   *transport.Client
	Attempts uint
	Backoff  time.Duration
}

func NewGatewayCommitter(client *transport.Client) *GatewayCommitter {
	return &GatewayCommitter{Client: client, Attempts: 3, Backoff: 500 * time.Millisecond}
}

func (c *GatewayCommitter) Commit(ctx context.Context, product NormalizedProduct, opts CommitOptions) (Receipt, error) {
	payload := map[string]any{"product": product}
	if opts.AsDraft {
		payload["status"] = "draft"
		payload["draft_reason"] = opts.DraftReason
	} else {
		payload["status"] = "active"
	}

	// Inline attempts skip the queue so each failure is observed here; only the
	// final fallback send is allowed to park the write durably.
	out, err := retry.Do(ctx, c.Attempts, c.Backoff, func() (transport.Outcome, error) {
		out, err := c.Client.Send(ctx, "IMPORT_PRODUCT", payload, transport.Options{SkipQueue: true, Metadata: opts.Metadata})
		if err != nil {
			return transport.Outcome{}, retry.Permanent(err)
		}
		if out.OK {
			return out, nil
		}
		if !out.Retryable() {
			return transport.Outcome{}, retry.Permanent(fmt.Errorf("import rejected: %s (%s)", out.Message, out.Code))
		}
		return transport.Outcome{}, fmt.Errorf("import attempt failed: %s (%s)", out.Message, out.Code)
	})
	if err == nil {
		return receiptFrom(out), nil
	}
	if ctx.Err() != nil {
		return Receipt{}, err
	}

	out, sendErr := c.Client.Send(ctx, "IMPORT_PRODUCT", payload, transport.Options{Metadata: opts.Metadata})
	if sendErr != nil {
		return Receipt{}, sendErr
	}
	if out.OK || out.Code == transport.CodeQueued {
		return receiptFrom(out), nil
	}
	return Receipt{}, fmt.Errorf("import failed: %s (%s)", out.Message, out.Code)
}

func receiptFrom(out transport.Outcome) Receipt {
	r := Receipt{RequestID: out.RequestID, Queued: out.Code == transport.CodeQueued}
	if len(out.Data) > 0 {
		var body struct {
			ProductID string `json:"product_id"`
		}
		if err := json.Unmarshal(out.Data, &body); err == nil {
			r.ProductID = body.ProductID
		}
	}
	return r
}
