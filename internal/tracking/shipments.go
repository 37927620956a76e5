// Package tracking follows supplier shipments after placement and reconciles
// their tracking numbers into the storefront.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
)

// ErrAlreadySynced means another reconciler pass stamped the record first.
var ErrAlreadySynced = errors.New("shipment already synced to storefront")

// ShipmentRecord is one supplier shipment, keyed by order id. A record starts
// without a tracking number (pull pending) and without a storefront sync
// stamp (push pending).
type ShipmentRecord struct {
	OrderID            string     `dynamodbav:"order_id"` // PK
	Supplier           string     `dynamodbav:"supplier"`
	SupplierOrderID    string     `dynamodbav:"supplier_order_id"`
	TrackingNumber     string     `dynamodbav:"tracking_number,omitempty"`
	Carrier            string     `dynamodbav:"carrier,omitempty"`
	Status             string     `dynamodbav:"status,omitempty"`
	EstimatedDelivery  time.Time  `dynamodbav:"estimated_delivery,omitempty"`
	CreatedAt          time.Time  `dynamodbav:"created_at"`
	UpdatedAt          time.Time  `dynamodbav:"updated_at"`
	StorefrontSyncedAt *time.Time `dynamodbav:"storefront_synced_at,omitempty"`
}

// Store persists shipment records in the shipments table.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// RecordPlacement creates or refreshes the shipment row for a completed
// fulfillment. Satisfies the executor's ShipmentRecorder.
func (s *Store) RecordPlacement(ctx context.Context, orderID, supplierType, supplierOrderID, trackingNumber, carrier string, estimatedDelivery time.Time) error {
	now := s.nowFunc()
	rec := ShipmentRecord{
		OrderID:           orderID,
		Supplier:          supplierType,
		SupplierOrderID:   supplierOrderID,
		TrackingNumber:    trackingNumber,
		Carrier:           carrier,
		EstimatedDelivery: estimatedDelivery,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal shipment: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put shipment: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, orderID string) (ShipmentRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
	})
	if err != nil {
		return ShipmentRecord{}, fmt.Errorf("get shipment: %w", err)
	}
	if len(out.Item) == 0 {
		return ShipmentRecord{}, fmt.Errorf("shipment %s not found", orderID)
	}
	var rec ShipmentRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return ShipmentRecord{}, fmt.Errorf("unmarshal shipment: %w", err)
	}
	return rec, nil
}

// SetTracking fills in tracking details pulled from the supplier.
func (s *Store) SetTracking(ctx context.Context, orderID, trackingNumber, carrier, status string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression:         awsString("SET tracking_number = :tn, carrier = :c, #st = :status, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tn":     &types.AttributeValueMemberS{Value: trackingNumber},
			":c":      &types.AttributeValueMemberS{Value: carrier},
			":status": &types.AttributeValueMemberS{Value: status},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("set tracking: %w", err)
	}
	return nil
}

// PendingPull returns records that still lack a tracking number.
func (s *Store) PendingPull(ctx context.Context, limit int) ([]ShipmentRecord, error) {
	return s.scanFiltered(ctx, "attribute_not_exists(tracking_number) OR tracking_number = :empty",
		map[string]types.AttributeValue{":empty": &types.AttributeValueMemberS{Value: ""}}, limit)
}

// PendingPush returns records with a tracking number not yet synced to the
// storefront.
func (s *Store) PendingPush(ctx context.Context, limit int) ([]ShipmentRecord, error) {
	return s.scanFiltered(ctx, "attribute_exists(tracking_number) AND tracking_number <> :empty AND attribute_not_exists(storefront_synced_at)",
		map[string]types.AttributeValue{":empty": &types.AttributeValueMemberS{Value: ""}}, limit)
}

func (s *Store) scanFiltered(ctx context.Context, filter string, values map[string]types.AttributeValue, limit int) ([]ShipmentRecord, error) {
	input := &dyn.ScanInput{
		TableName:                 &s.tableName,
		FilterExpression:          &filter,
		ExpressionAttributeValues: values,
	}
	// Drain every page; a single Scan call stops at 1MB.
	var items []map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan shipments: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	var recs []ShipmentRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &recs); err != nil {
		return nil, fmt.Errorf("unmarshal shipments: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// MarkSynced stamps the record as pushed to the storefront. The conditional
// write makes the stamp at-most-once even with overlapping reconciler passes.
func (s *Store) MarkSynced(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}},
		UpdateExpression:    awsString("SET storefront_synced_at = :at, updated_at = :at"),
		ConditionExpression: awsString("attribute_not_exists(storefront_synced_at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadySynced
		}
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
