package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/shopopti/go-import-fulfillment/internal/awsx"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
)

// ErrNoCredentials means the merchant has not connected the supplier yet.
// The executor treats this as "wait", not "fail": the order stays pending
// without consuming its retry budget.
var ErrNoCredentials = errors.New("supplier credentials not configured")

// Vault loads per-supplier API credentials.
type Vault interface {
	Credentials(ctx context.Context, supplierType string) (supplier.Credentials, error)
}

// DynamoVault reads credentials from the supplier_credentials table, keyed by
// supplier type.
type DynamoVault struct {
	client    awsx.DynamoDBAPI
	tableName string
}

func NewDynamoVault(client awsx.DynamoDBAPI, tableName string) *DynamoVault {
	return &DynamoVault{client: client, tableName: tableName}
}

func (v *DynamoVault) Credentials(ctx context.Context, supplierType string) (supplier.Credentials, error) {
	out, err := v.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &v.tableName,
		Key:       map[string]types.AttributeValue{"supplier": &types.AttributeValueMemberS{Value: supplierType}},
	})
	if err != nil {
		return supplier.Credentials{}, fmt.Errorf("get credentials: %w", err)
	}
	if len(out.Item) == 0 {
		return supplier.Credentials{}, ErrNoCredentials
	}
	var creds supplier.Credentials
	if err := attributevalue.UnmarshalMap(out.Item, &creds); err != nil {
		return supplier.Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if creds.Empty() {
		return supplier.Credentials{}, ErrNoCredentials
	}
	return creds, nil
}

// Put stores or replaces a supplier's credentials.
func (v *DynamoVault) Put(ctx context.Context, supplierType string, creds supplier.Credentials) error {
	item, err := attributevalue.MarshalMap(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	item["supplier"] = &types.AttributeValueMemberS{Value: supplierType}
	if _, err := v.client.PutItem(ctx, &dyn.PutItemInput{TableName: &v.tableName, Item: item}); err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}
