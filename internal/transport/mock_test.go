package transport

import (
	"context"
	"sort"
	"strconv"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory stand-in for the DynamoDB client, keyed by the
// queue table's correlation_id attribute. It understands just enough of the
// store's expressions to back the queue tests. Setting pageSize makes Scan
// hand out results page by page with a LastEvaluatedKey, like the real
// service does past 1MB.
type mockDynamo struct {
	mu       sync.Mutex
	pageSize int
	items    map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	if id, ok := item["correlation_id"].(*types.AttributeValueMemberS); ok {
		return id.Value
	}
	return ""
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(in.Item)] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &dyn.GetItemOutput{Item: m.items[itemKey(in.Key)]}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey(in.Key))
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cutoff *int64
	if in.FilterExpression != nil && *in.FilterExpression == "next_retry_at <= :now" {
		if now, ok := in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN); ok {
			v, err := strconv.ParseInt(now.Value, 10, 64)
			if err != nil {
				return nil, err
			}
			cutoff = &v
		}
	}

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(in.ExclusiveStartKey) != 0 {
		after := itemKey(in.ExclusiveStartKey)
		for i, k := range keys {
			if k == after {
				start = i + 1
				break
			}
		}
	}

	out := &dyn.ScanOutput{}
	for i := start; i < len(keys); i++ {
		item := m.items[keys[i]]
		if cutoff != nil {
			n, ok := item["next_retry_at"].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			at, err := strconv.ParseInt(n.Value, 10, 64)
			if err != nil || at > *cutoff {
				continue
			}
		}
		out.Items = append(out.Items, item)
		if m.pageSize > 0 && len(out.Items) >= m.pageSize && i+1 < len(keys) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"correlation_id": item["correlation_id"],
			}
			break
		}
	}
	return out, nil
}

func (m *mockDynamo) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
