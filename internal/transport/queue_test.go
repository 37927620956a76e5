package transport

import (
	"context"
	"testing"
	"time"
)

func queuedAt(id string, base time.Time, offset time.Duration, retryIn time.Duration) QueuedRequest {
	created := base.Add(offset)
	return QueuedRequest{
		CorrelationID:  id,
		Action:         "IMPORT_PRODUCT",
		Payload:        []byte(`{"product":{"title":"x"}}`),
		IdempotencyKey: "IMPORT_PRODUCT-" + id,
		CreatedAt:      created,
		QueuedAt:       created,
		NextRetryAt:    base.Add(retryIn).UnixMilli(),
	}
}

func TestDueReturnsOnlyRipeEntriesOldestFirst(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoQueueStore(mock, "pending_actions")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for _, qr := range []QueuedRequest{
		queuedAt("late", base, 2*time.Minute, 10*time.Minute),
		queuedAt("second", base, time.Minute, -time.Second),
		queuedAt("first", base, 0, -time.Minute),
	} {
		if err := store.Put(ctx, qr); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	due, err := store.Due(ctx, base.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(due))
	}
	if due[0].CorrelationID != "first" || due[1].CorrelationID != "second" {
		t.Fatalf("due entries out of order: %s, %s", due[0].CorrelationID, due[1].CorrelationID)
	}

	due, err = store.Due(ctx, base.Add(5*time.Minute), 1)
	if err != nil {
		t.Fatalf("Due with limit: %v", err)
	}
	if len(due) != 1 || due[0].CorrelationID != "first" {
		t.Fatalf("limit must keep the oldest entry, got %v", due)
	}
}

func TestPutPreservesRoundTrip(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoQueueStore(mock, "pending_actions")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	want := queuedAt("rt", base, 0, -time.Second)
	want.RetryCount = 2
	want.Metadata = map[string]string{"source": "bulk"}
	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	due, err := store.Due(ctx, base, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(due))
	}
	got := due[0]
	if got.Action != want.Action || got.IdempotencyKey != want.IdempotencyKey ||
		got.RetryCount != 2 || got.Metadata["source"] != "bulk" || string(got.Payload) != string(want.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStatusAndClear(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoQueueStore(mock, "pending_actions")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, queuedAt(id, base, time.Duration(i)*time.Minute, time.Hour)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	status, err := store.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Count != 3 || len(status.Actions) != 3 {
		t.Fatalf("expected 3 entries in status, got %+v", status)
	}
	if status.Actions[0].CorrelationID != "a" {
		t.Fatalf("status must list oldest first, got %s", status.Actions[0].CorrelationID)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mock.size() != 0 {
		t.Fatalf("Clear left %d entries behind", mock.size())
	}
	status, err = store.Status(ctx)
	if err != nil {
		t.Fatalf("Status after clear: %v", err)
	}
	if status.Count != 0 {
		t.Fatalf("expected empty status, got %+v", status)
	}
}

func TestScansFollowPagedResults(t *testing.T) {
	mock := newMockDynamo()
	mock.pageSize = 1
	store := NewDynamoQueueStore(mock, "pending_actions")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := store.Put(ctx, queuedAt(id, base, time.Duration(i)*time.Minute, -time.Second)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	due, err := store.Due(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("Due must span every page, got %d entries", len(due))
	}

	status, err := store.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Count != 3 {
		t.Fatalf("Status must span every page, got %+v", status)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if mock.size() != 0 {
		t.Fatalf("Clear left %d entries behind", mock.size())
	}
}

func TestDeleteRemovesSingleEntry(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoQueueStore(mock, "pending_actions")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	if err := store.Put(ctx, queuedAt("keep", base, 0, -time.Second)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, queuedAt("drop", base, 0, -time.Second)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := store.Delete(ctx, "drop"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	due, err := store.Due(ctx, base, 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].CorrelationID != "keep" {
		t.Fatalf("expected only the kept entry, got %v", due)
	}
}
