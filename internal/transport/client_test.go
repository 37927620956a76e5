package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type memQueue struct {
	mu      sync.Mutex
	entries map[string]QueuedRequest
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[string]QueuedRequest)}
}

func (q *memQueue) Put(ctx context.Context, req QueuedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[req.CorrelationID] = req
	return nil
}

func (q *memQueue) Due(ctx context.Context, now time.Time, limit int) ([]QueuedRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []QueuedRequest
	for _, r := range q.entries {
		if r.NextRetryAt <= now.UnixMilli() {
			due = append(due, r)
		}
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (q *memQueue) Delete(ctx context.Context, correlationID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, correlationID)
	return nil
}

func (q *memQueue) Status(ctx context.Context) (QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{Count: len(q.entries)}, nil
}

func (q *memQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[string]QueuedRequest)
	return nil
}

func (q *memQueue) single(t *testing.T) QueuedRequest {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) != 1 {
		t.Fatalf("expected exactly 1 queued entry, got %d", len(q.entries))
	}
	for _, r := range q.entries {
		return r
	}
	return QueuedRequest{}
}

func testClient(url string, queue QueueStore, creds CredentialStore) *Client {
	return NewClient(ClientConfig{
		GatewayURL:     url,
		ClientID:       "shopopti-importer",
		ClientVersion:  "5.8.1",
		RequestTimeout: 2 * time.Second,
		Credentials:    creds,
		Queue:          queue,
	})
}

func TestSendSuccessPassesThroughData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true,"data":{"product_id":"p-9"},"message":"imported"}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL, nil, nil).Send(context.Background(), "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected OK outcome, got %+v", out)
	}
	if string(out.Data) != `{"product_id":"p-9"}` {
		t.Fatalf("data not passed through: %s", out.Data)
	}
	if out.Message != "imported" {
		t.Fatalf("message not passed through: %q", out.Message)
	}
}

func TestSendUnauthorizedClearsCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"message":"token expired"}`))
	}))
	defer srv.Close()

	creds := NewMemoryCredentialStore("tok-123")
	out, err := testClient(srv.URL, nil, creds).Send(context.Background(), "GET_SETTINGS", nil, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Code != CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %s", out.Code)
	}
	if out.Retryable() {
		t.Fatalf("UNAUTHORIZED must not be retryable")
	}
	if token, _ := creds.Token(context.Background()); token != "" {
		t.Fatalf("credential must be cleared after 401, still %q", token)
	}
}

func TestSendConflictUsesBackendCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"ok":false,"code":"ALREADY_IMPORTED","message":"duplicate"}`))
	}))
	defer srv.Close()

	queue := newMemQueue()
	out, err := testClient(srv.URL, queue, nil).Send(context.Background(), "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Code != Code("ALREADY_IMPORTED") {
		t.Fatalf("expected backend code, got %s", out.Code)
	}
	if out.Retryable() {
		t.Fatalf("conflict outcomes must never be retried")
	}
	if len(queue.entries) != 0 {
		t.Fatalf("conflict must not be queued")
	}
}

func TestSendVersionOutdatedCarriesMinVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUpgradeRequired)
		_, _ = w.Write([]byte(`{"ok":false,"message":"update required","details":{"minVersion":"6.0.0"}}`))
	}))
	defer srv.Close()

	out, _ := testClient(srv.URL, nil, nil).Send(context.Background(), "CHECK_VERSION", nil, Options{})
	if out.Code != CodeVersionOutdated {
		t.Fatalf("expected VERSION_OUTDATED, got %s", out.Code)
	}
	if out.MinVersion != "6.0.0" {
		t.Fatalf("min version hint lost: %q", out.MinVersion)
	}
}

func TestSendQuotaExceededRetryAfter(t *testing.T) {
	body := `{"ok":false,"details":{"retryAfter":120}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := testClient(srv.URL, nil, nil)
	out, _ := client.Send(context.Background(), "AI_GENERATE_TAGS", nil, Options{SkipQueue: true})
	if out.Code != CodeQuotaExceeded {
		t.Fatalf("expected QUOTA_EXCEEDED, got %s", out.Code)
	}
	if out.RetryAfter != 120*time.Second {
		t.Fatalf("expected 120s retry hint, got %s", out.RetryAfter)
	}
	if !out.Retryable() {
		t.Fatalf("QUOTA_EXCEEDED must be retryable")
	}

	body = `{"ok":false}`
	out, _ = client.Send(context.Background(), "AI_GENERATE_TAGS", nil, Options{SkipQueue: true})
	if out.RetryAfter != 60*time.Second {
		t.Fatalf("missing hint must default to 60s, got %s", out.RetryAfter)
	}
}

func TestSendRetryableFailureQueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	queue := newMemQueue()
	out, err := testClient(srv.URL, queue, nil).Send(context.Background(), "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Code != CodeQueued {
		t.Fatalf("expected QUEUED, got %s", out.Code)
	}
	qr := queue.single(t)
	if qr.Action != "IMPORT_PRODUCT" {
		t.Fatalf("queued wrong action: %s", qr.Action)
	}
	if qr.IdempotencyKey == "" {
		t.Fatalf("queued write action must carry its idempotency key")
	}
	if qr.NextRetryAt == 0 {
		t.Fatalf("queued entry must be scheduled")
	}
}

func TestSendSkipQueueSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	queue := newMemQueue()
	out, _ := testClient(srv.URL, queue, nil).Send(context.Background(), "IMPORT_PRODUCT", nil, Options{SkipQueue: true})
	if out.Code != CodeInternal {
		t.Fatalf("expected INTERNAL, got %s", out.Code)
	}
	if len(queue.entries) != 0 {
		t.Fatalf("SkipQueue must bypass the durable queue")
	}
}

func TestSendNetworkErrorQueues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	queue := newMemQueue()
	out, err := testClient(srv.URL, queue, nil).Send(context.Background(), "SYNC_STOCK", map[string]any{"sku": "A1"}, Options{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.Code != CodeQueued {
		t.Fatalf("expected QUEUED after network error, got %s", out.Code)
	}
}

func TestIdempotencyKeyOnlyForWriteActions(t *testing.T) {
	var mu sync.Mutex
	keys := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys[r.Header.Get("X-Request-Id")] = r.Header.Get("X-Idempotency-Key")
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL, nil, nil)
	ctx := context.Background()

	write, _ := client.Send(ctx, "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})
	read, _ := client.Send(ctx, "GET_SETTINGS", nil, Options{})

	mu.Lock()
	defer mu.Unlock()
	if keys[write.RequestID] == "" {
		t.Fatalf("write action must send an idempotency key")
	}
	if keys[read.RequestID] != "" {
		t.Fatalf("read action must not send an idempotency key, got %q", keys[read.RequestID])
	}
}

func TestIdempotencyKeyStableWithinBucket(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("X-Idempotency-Key"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL, nil, nil)
	client.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first, _ := client.Send(ctx, "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})
	second, _ := client.Send(ctx, "IMPORT_PRODUCT", map[string]any{"title": "x"}, Options{})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != seen[1] {
		t.Fatalf("same payload in the same bucket must reuse the key: %v", seen)
	}
	if first.RequestID == second.RequestID {
		t.Fatalf("each attempt must get its own request id")
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{GatewayURL: srv.URL, RequestTimeout: 20 * time.Millisecond})
	out, _ := client.Send(context.Background(), "GET_SETTINGS", nil, Options{SkipQueue: true})
	if out.Code != CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s (%s)", out.Code, out.Message)
	}
}
