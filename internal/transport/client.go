package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/retry"
)

// Options tunes a single Send.
type Options struct {
	// RequiresIdempotency overrides the write-action allowlist when non-nil.
	RequiresIdempotency *bool
	// SkipQueue disables queueing on retryable failure.
	SkipQueue bool
	// Metadata is merged into the request envelope.
	Metadata map[string]string
}

// ClientConfig collects the client's wiring.
type ClientConfig struct {
	GatewayURL     string
	ClientID       string
	ClientVersion  string
	RequestTimeout time.Duration
	KeyBucket      time.Duration
	Credentials    CredentialStore
	Queue          QueueStore
	Policy         retry.Policy
	Logger         *logging.Logger
}

// Client builds request envelopes, executes them against the gateway, and
// classifies responses into tagged Outcomes. Retryable failures are persisted
// to the durable queue unless the caller opts out.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	nowFunc func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.KeyBucket <= 0 {
		cfg.KeyBucket = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		nowFunc: time.Now,
	}
}

// Send executes one logical action. The returned Outcome is always meaningful;
// the error is reserved for marshaling and store failures.
func (c *Client) Send(ctx context.Context, action string, payload any, opts Options) (Outcome, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, err
	}

	now := c.nowFunc()
	requiresKey := IsWriteAction(action)
	if opts.RequiresIdempotency != nil {
		requiresKey = *opts.RequiresIdempotency
	}

	env := Envelope{
		Action:        action,
		Payload:       raw,
		CorrelationID: uuid.NewString(),
		Metadata:      opts.Metadata,
		CreatedAt:     now,
	}
	if requiresKey {
		env.IdempotencyKey = idempotencyKey(action, raw, c.cfg.KeyBucket, now)
	}

	out := c.execute(ctx, env)
	if out.OK || !out.Retryable() || opts.SkipQueue {
		return out, nil
	}

	// Persist for the sweeper and tell the caller QUEUED right away, so it can
	// avoid double-submission without waiting.
	if c.cfg.Queue != nil {
		qr := QueuedRequest{
			CorrelationID:  env.CorrelationID,
			Action:         env.Action,
			Payload:        []byte(env.Payload),
			IdempotencyKey: env.IdempotencyKey,
			Metadata:       env.Metadata,
			CreatedAt:      env.CreatedAt,
			QueuedAt:       now,
			NextRetryAt:    now.Add(c.cfg.Policy.Delay(0)).UnixMilli(),
		}
		if err := c.cfg.Queue.Put(ctx, qr); err != nil {
			c.cfg.Logger.Error("queue request", "action", action, "error", err)
			return out, nil
		}
		c.cfg.Logger.Info("request queued for retry", "action", action, "request_id", env.CorrelationID)
		return Outcome{OK: false, Code: CodeQueued, Message: "request queued for retry", RequestID: env.CorrelationID}, nil
	}
	return out, nil
}

// Replay re-issues a queued request with a fresh correlation id but the same
// idempotency key. It never re-queues; the sweeper owns that bookkeeping.
func (c *Client) Replay(ctx context.Context, qr QueuedRequest) Outcome {
	env := qr.envelope()
	env.CorrelationID = uuid.NewString()
	return c.execute(ctx, env)
}

func (c *Client) execute(ctx context.Context, env Envelope) Outcome {
	body, err := json.Marshal(map[string]any{
		"action":   env.Action,
		"version":  c.cfg.ClientVersion,
		"payload":  env.Payload,
		"metadata": env.Metadata,
	})
	if err != nil {
		return Outcome{OK: false, Code: CodeInternal, Message: err.Error(), RequestID: env.CorrelationID}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return Outcome{OK: false, Code: CodeInternal, Message: err.Error(), RequestID: env.CorrelationID}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", env.CorrelationID)
	req.Header.Set("X-Client-Id", c.cfg.ClientID)
	req.Header.Set("X-Client-Version", c.cfg.ClientVersion)
	if env.IdempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", env.IdempotencyKey)
	}
	if c.cfg.Credentials != nil {
		if token, err := c.cfg.Credentials.Token(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return Outcome{OK: false, Code: CodeTimeout, Message: "request timeout", RequestID: env.CorrelationID}
		}
		return Outcome{OK: false, Code: CodeNetworkError, Message: err.Error(), RequestID: env.CorrelationID}
	}
	defer resp.Body.Close()

	return c.classify(ctx, resp, env)
}

func (c *Client) classify(ctx context.Context, resp *http.Response, env Envelope) Outcome {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{OK: false, Code: CodeNetworkError, Message: err.Error(), RequestID: env.CorrelationID}
	}
	var gw gatewayResponse
	_ = json.Unmarshal(raw, &gw)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data := gw.Data
		if data == nil {
			data = raw
		}
		return Outcome{OK: true, Data: data, Message: gw.Message, RequestID: env.CorrelationID}

	case resp.StatusCode == http.StatusUnauthorized:
		if c.cfg.Credentials != nil {
			if err := c.cfg.Credentials.Clear(ctx); err != nil {
				c.cfg.Logger.Warn("clear credential", "error", err)
			}
		}
		return Outcome{OK: false, Code: CodeUnauthorized, Message: orDefault(gw.Message, "authentication required"), RequestID: env.CorrelationID}

	case resp.StatusCode == http.StatusConflict:
		// The backend already applied this write (or is applying it); surface
		// its own code and do not retry.
		code := CodeConflict
		if gw.Code != "" {
			code = Code(gw.Code)
		}
		return Outcome{OK: false, Code: code, Message: gw.Message, RequestID: env.CorrelationID}

	case resp.StatusCode == http.StatusUpgradeRequired:
		return Outcome{OK: false, Code: CodeVersionOutdated, Message: gw.Message, MinVersion: gw.Details.MinVersion, RequestID: env.CorrelationID}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := gw.Details.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 60
		}
		return Outcome{
			OK: false, Code: CodeQuotaExceeded,
			Message:    orDefault(gw.Message, "rate limit exceeded"),
			RetryAfter: time.Duration(retryAfter) * time.Second,
			RequestID:  env.CorrelationID,
		}

	default:
		return Outcome{OK: false, Code: CodeInternal, Message: orDefault(gw.Message, resp.Status), RequestID: env.CorrelationID}
	}
}

// Shorthand helpers for common actions.

func (c *Client) ImportProduct(ctx context.Context, product any, metadata map[string]string) (Outcome, error) {
	return c.Send(ctx, "IMPORT_PRODUCT", map[string]any{"product": product}, Options{Metadata: metadata})
}

func (c *Client) CheckVersion(ctx context.Context) (Outcome, error) {
	return c.Send(ctx, "CHECK_VERSION", map[string]any{}, Options{SkipQueue: true})
}

func (c *Client) LogAction(ctx context.Context, actionType, actionStatus string, details map[string]any) (Outcome, error) {
	payload := map[string]any{"action_type": actionType, "action_status": actionStatus}
	for k, v := range details {
		payload[k] = v
	}
	noKey := false
	return c.Send(ctx, "LOG_ACTION", payload, Options{RequiresIdempotency: &noKey, SkipQueue: true})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
