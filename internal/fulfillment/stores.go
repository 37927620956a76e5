package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
)

var (
	// ErrAlreadyQueued means the order holds an active (non-terminal) queue slot.
	ErrAlreadyQueued = errors.New("order already has an active fulfillment")
	// ErrStatusMismatch means a conditional status transition lost the race.
	ErrStatusMismatch = errors.New("queue item status mismatch")
	// ErrNotFound covers lookups of rows that do not exist.
	ErrNotFound = errors.New("not found")
)

// OrderStore persists storefront orders.
type OrderStore struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewOrderStore(client awsx.DynamoDBAPI, tableName string) *OrderStore {
	return &OrderStore{client: client, tableName: tableName, nowFunc: time.Now}
}

func (s *OrderStore) Put(ctx context.Context, order Order) error {
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, orderID string) (Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
	})
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	if len(out.Item) == 0 {
		return Order{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	var order Order
	if err := attributevalue.UnmarshalMap(out.Item, &order); err != nil {
		return Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	return order, nil
}

// SetFulfillmentStatus mirrors the queue outcome onto the order record.
func (s *OrderStore) SetFulfillmentStatus(ctx context.Context, orderID, status string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression: awsString("SET fulfillment_status = :fs, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fs": &types.AttributeValueMemberS{Value: status},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("set fulfillment status: %w", err)
	}
	return nil
}

// scanAll drains every page of a scan; a single Scan call stops at 1MB.
func scanAll(ctx context.Context, client awsx.DynamoDBAPI, input *dyn.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := client.Scan(ctx, input)
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

// MappingStore resolves storefront products to supplier listings. Lookup is
// by product id first, then by SKU.
type MappingStore struct {
	client    awsx.DynamoDBAPI
	tableName string
}

func NewMappingStore(client awsx.DynamoDBAPI, tableName string) *MappingStore {
	return &MappingStore{client: client, tableName: tableName}
}

func (s *MappingStore) Put(ctx context.Context, m SupplierMapping) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

func (s *MappingStore) ByProductID(ctx context.Context, productID string) (SupplierMapping, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: productID}},
	})
	if err != nil {
		return SupplierMapping{}, fmt.Errorf("get mapping: %w", err)
	}
	if len(out.Item) == 0 {
		return SupplierMapping{}, ErrNotFound
	}
	var m SupplierMapping
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return SupplierMapping{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	return m, nil
}

func (s *MappingStore) BySKU(ctx context.Context, sku string) (SupplierMapping, error) {
	items, err := scanAll(ctx, s.client, &dyn.ScanInput{
		TableName:                 &s.tableName,
		FilterExpression:          awsString("sku = :sku"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":sku": &types.AttributeValueMemberS{Value: sku}},
	})
	if err != nil {
		return SupplierMapping{}, fmt.Errorf("scan mapping by sku: %w", err)
	}
	if len(items) == 0 {
		return SupplierMapping{}, ErrNotFound
	}
	var m SupplierMapping
	if err := attributevalue.UnmarshalMap(items[0], &m); err != nil {
		return SupplierMapping{}, fmt.Errorf("unmarshal mapping: %w", err)
	}
	return m, nil
}

// Resolve finds the mapping for a line item, preferring the product link over
// the SKU match.
func (s *MappingStore) Resolve(ctx context.Context, item LineItem) (SupplierMapping, error) {
	if item.ProductID != "" {
		if m, err := s.ByProductID(ctx, item.ProductID); err == nil {
			return m, nil
		} else if !errors.Is(err, ErrNotFound) {
			return SupplierMapping{}, err
		}
	}
	if item.SKU != "" {
		return s.BySKU(ctx, item.SKU)
	}
	return SupplierMapping{}, ErrNotFound
}

// QueueStore persists fulfillment queue items, one active slot per order.
type QueueStore struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewQueueStore(client awsx.DynamoDBAPI, tableName string) *QueueStore {
	return &QueueStore{client: client, tableName: tableName, nowFunc: time.Now}
}

// Enqueue creates the order's queue slot. The conditional write admits the
// item only when no row exists yet or the previous attempt ended terminally,
// so double-submission of the same order is rejected atomically.
func (s *QueueStore) Enqueue(ctx context.Context, item QueueItem) error {
	now := s.nowFunc()
	item.Status = StatusPending
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.NextAttemptAt == 0 {
		item.NextAttemptAt = now.UnixMilli()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     av,
		ConditionExpression:      awsString("attribute_not_exists(order_id) OR #s IN (:completed, :failed, :cancelled)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: StatusCompleted},
			":failed":    &types.AttributeValueMemberS{Value: StatusFailed},
			":cancelled": &types.AttributeValueMemberS{Value: StatusCancelled},
		},
	})
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return ErrAlreadyQueued
		}
		return fmt.Errorf("enqueue order: %w", err)
	}
	return nil
}

func (s *QueueStore) Get(ctx context.Context, orderID string) (QueueItem, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
	})
	if err != nil {
		return QueueItem{}, fmt.Errorf("get queue item: %w", err)
	}
	if len(out.Item) == 0 {
		return QueueItem{}, fmt.Errorf("queue item %s: %w", orderID, ErrNotFound)
	}
	var item QueueItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return QueueItem{}, fmt.Errorf("unmarshal queue item: %w", err)
	}
	return item, nil
}

// Due returns pending items whose next attempt time has passed, oldest first.
func (s *QueueStore) Due(ctx context.Context, now time.Time, limit int) ([]QueueItem, error) {
	raw, err := scanAll(ctx, s.client, &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         awsString("#s = :pending AND next_attempt_at <= :now"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":now":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan due queue items: %w", err)
	}
	var items []QueueItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal queue items: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// List returns every queue item, newest first.
func (s *QueueStore) List(ctx context.Context) ([]QueueItem, error) {
	raw, err := scanAll(ctx, s.client, &dyn.ScanInput{TableName: &s.tableName})
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	var items []QueueItem
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("unmarshal queue: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

// MarkProcessing claims a pending item. A second worker loses the conditional
// write and backs off with ErrStatusMismatch.
func (s *QueueStore) MarkProcessing(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, []string{StatusPending}, StatusProcessing, nil)
}

// MarkCompleted finishes an item and records the supplier's order id.
func (s *QueueStore) MarkCompleted(ctx context.Context, orderID, supplierOrderID string) error {
	return s.transition(ctx, orderID, []string{StatusProcessing}, StatusCompleted, map[string]types.AttributeValue{
		":soid": &types.AttributeValueMemberS{Value: supplierOrderID},
	})
}

// MarkFailed parks an item permanently after its retry budget is spent.
func (s *QueueStore) MarkFailed(ctx context.Context, orderID, reason string) error {
	return s.transition(ctx, orderID, []string{StatusProcessing, StatusPending}, StatusFailed, map[string]types.AttributeValue{
		":err": &types.AttributeValueMemberS{Value: reason},
	})
}

// ScheduleRetry puts a failed attempt back to pending with its bookkeeping.
func (s *QueueStore) ScheduleRetry(ctx context.Context, orderID string, retryCount int, nextAttempt time.Time, lastError string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression: awsString(
			"SET #s = :pending, retry_count = :rc, next_attempt_at = :next, last_error = :err, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":    &types.AttributeValueMemberS{Value: StatusPending},
			":rc":         &types.AttributeValueMemberN{Value: strconv.Itoa(retryCount)},
			":next":       &types.AttributeValueMemberN{Value: strconv.FormatInt(nextAttempt.UnixMilli(), 10)},
			":err":        &types.AttributeValueMemberS{Value: lastError},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
		},
		ConditionExpression: awsString("#s = :processing"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// DemoteToPending returns a claimed item to pending without consuming a
// retry, used when credentials are missing rather than the supplier failing.
func (s *QueueStore) DemoteToPending(ctx context.Context, orderID string, nextAttempt time.Time, reason string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression:         awsString("SET #s = :pending, next_attempt_at = :next, last_error = :err, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending":    &types.AttributeValueMemberS{Value: StatusPending},
			":next":       &types.AttributeValueMemberN{Value: strconv.FormatInt(nextAttempt.UnixMilli(), 10)},
			":err":        &types.AttributeValueMemberS{Value: reason},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
		},
		ConditionExpression: awsString("#s = :processing"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("demote queue item: %w", err)
	}
	return nil
}

// Cancel stops an active item. Terminal items are left untouched.
func (s *QueueStore) Cancel(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID, []string{StatusPending, StatusProcessing}, StatusCancelled, nil)
}

// RetryNow makes a pending or failed item immediately due again.
func (s *QueueStore) RetryNow(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression:         awsString("SET #s = :pending, next_attempt_at = :next, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			":ua":      &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":pending": &types.AttributeValueMemberS{Value: StatusPending},
			":failed":  &types.AttributeValueMemberS{Value: StatusFailed},
		},
		ConditionExpression: awsString("#s = :pending OR #s = :failed"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("retry now: %w", err)
	}
	return nil
}

func (s *QueueStore) transition(ctx context.Context, orderID string, from []string, to string, extra map[string]types.AttributeValue) error {
	now := s.nowFunc()
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new": &types.AttributeValueMemberS{Value: to},
		":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if _, ok := extra[":soid"]; ok {
		updateExpr += ", supplier_order_id = :soid"
	}
	if _, ok := extra[":err"]; ok {
		updateExpr += ", last_error = :err"
	}
	for k, v := range extra {
		values[k] = v
	}

	cond := ""
	for i, status := range from {
		if i > 0 {
			cond += " OR "
		}
		ref := fmt.Sprintf(":from%d", i)
		cond += "#s = " + ref
		values[ref] = &types.AttributeValueMemberS{Value: status}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       &cond,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("transition queue item to %s: %w", to, err)
	}
	return nil
}

func awsString(s string) *string { return &s }
