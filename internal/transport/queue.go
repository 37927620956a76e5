package transport

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goccy/go-json"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
)

// QueuedRequest is an Envelope that could not complete and waits in the
// durable queue for the sweeper. Keyed by correlation id.
type QueuedRequest struct {
	CorrelationID  string            `dynamodbav:"correlation_id"` // PK
	Action         string            `dynamodbav:"action"`
	Payload        []byte            `dynamodbav:"payload"`
	IdempotencyKey string            `dynamodbav:"idempotency_key,omitempty"`
	Metadata       map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt      time.Time         `dynamodbav:"created_at"`
	QueuedAt       time.Time         `dynamodbav:"queued_at"`
	NextRetryAt    int64             `dynamodbav:"next_retry_at"` // epoch millis
	RetryCount     int               `dynamodbav:"retry_count"`
}

// QueuedSummary is the administrative view of one queue entry.
type QueuedSummary struct {
	CorrelationID string    `json:"request_id"`
	Action        string    `json:"action"`
	CreatedAt     time.Time `json:"created_at"`
	RetryCount    int       `json:"retry_count"`
	NextRetryAt   time.Time `json:"next_retry_at"`
}

// QueueStatus reports queue depth plus per-entry summaries, oldest first.
type QueueStatus struct {
	Count   int             `json:"count"`
	Actions []QueuedSummary `json:"actions"`
}

// QueueStore is the durable queue for retryable requests.
type QueueStore interface {
	Put(ctx context.Context, req QueuedRequest) error
	Due(ctx context.Context, now time.Time, limit int) ([]QueuedRequest, error)
	Delete(ctx context.Context, correlationID string) error
	Status(ctx context.Context) (QueueStatus, error)
	Clear(ctx context.Context) error
}

// DynamoQueueStore persists queued requests in a DynamoDB table.
type DynamoQueueStore struct {
	client    awsx.DynamoDBAPI
	tableName string
}

func NewDynamoQueueStore(client awsx.DynamoDBAPI, tableName string) *DynamoQueueStore {
	return &DynamoQueueStore{client: client, tableName: tableName}
}

func (s *DynamoQueueStore) Put(ctx context.Context, req QueuedRequest) error {
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal queued request: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put queued request: %w", err)
	}
	return nil
}

// scanAll drains every page of a scan; a single Scan call stops at 1MB.
func (s *DynamoQueueStore) scanAll(ctx context.Context, input *dyn.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoQueueStore) Due(ctx context.Context, now time.Time, limit int) ([]QueuedRequest, error) {
	items, err := s.scanAll(ctx, &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: awsString("next_retry_at <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan due requests: %w", err)
	}
	var reqs []QueuedRequest
	if err := attributevalue.UnmarshalListOfMaps(items, &reqs); err != nil {
		return nil, fmt.Errorf("unmarshal due requests: %w", err)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (s *DynamoQueueStore) Delete(ctx context.Context, correlationID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"correlation_id": &types.AttributeValueMemberS{Value: correlationID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete queued request: %w", err)
	}
	return nil
}

func (s *DynamoQueueStore) Status(ctx context.Context) (QueueStatus, error) {
	items, err := s.scanAll(ctx, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return QueueStatus{}, fmt.Errorf("scan queue: %w", err)
	}
	var reqs []QueuedRequest
	if err := attributevalue.UnmarshalListOfMaps(items, &reqs); err != nil {
		return QueueStatus{}, fmt.Errorf("unmarshal queue: %w", err)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })

	status := QueueStatus{Count: len(reqs), Actions: make([]QueuedSummary, 0, len(reqs))}
	for _, r := range reqs {
		status.Actions = append(status.Actions, QueuedSummary{
			CorrelationID: r.CorrelationID,
			Action:        r.Action,
			CreatedAt:     r.CreatedAt,
			RetryCount:    r.RetryCount,
			NextRetryAt:   time.UnixMilli(r.NextRetryAt),
		})
	}
	return status, nil
}

func (s *DynamoQueueStore) Clear(ctx context.Context) error {
	items, err := s.scanAll(ctx, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return fmt.Errorf("scan queue: %w", err)
	}
	for _, item := range items {
		id, ok := item["correlation_id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if err := s.Delete(ctx, id.Value); err != nil {
			return err
		}
	}
	return nil
}

// envelope converts a stored entry back to an Envelope for replay.
func (q QueuedRequest) envelope() Envelope {
	return Envelope{
		Action:         q.Action,
		Payload:        json.RawMessage(q.Payload),
		IdempotencyKey: q.IdempotencyKey,
		Metadata:       q.Metadata,
		CreatedAt:      q.CreatedAt,
		RetryCount:     q.RetryCount,
	}
}

func awsString(s string) *string { return &s }
