package fulfillment

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockTable is a minimal in-memory table for unit tests. It only understands
// the exact expressions the stores in this package issue. Setting pageSize
// makes Scan return results one page at a time with a LastEvaluatedKey, like
// the real service does past 1MB.
type mockTable struct {
	mu       sync.Mutex
	keyAttr  string
	pageSize int
	items    map[string]map[string]types.AttributeValue
}

func newMockTable(keyAttr string) *mockTable {
	return &mockTable{keyAttr: keyAttr, items: map[string]map[string]types.AttributeValue{}}
}

func (m *mockTable) key(attrs map[string]types.AttributeValue) (string, error) {
	attr, ok := attrs[m.keyAttr].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing key attribute " + m.keyAttr)
	}
	return attr.Value, nil
}

func (m *mockTable) status(item map[string]types.AttributeValue) string {
	if s, ok := item["status"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

// statusCondition evaluates "#s = :ref" clauses joined by OR.
func (m *mockTable) statusCondition(cond string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	for _, clause := range strings.Split(cond, " OR ") {
		ref := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(clause), "#s ="))
		want, ok := values[ref].(*types.AttributeValueMemberS)
		if ok && m.status(item) == want.Value {
			return true
		}
	}
	return false
}

func (m *mockTable) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := m.key(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		cond := *params.ConditionExpression
		existing, exists := m.items[k]
		if strings.HasPrefix(cond, "attribute_not_exists("+m.keyAttr+")") && exists {
			// remainder allows overwriting terminal rows
			terminal := false
			for _, ref := range []string{":completed", ":failed", ":cancelled"} {
				if want, ok := params.ExpressionAttributeValues[ref].(*types.AttributeValueMemberS); ok && m.status(existing) == want.Value {
					terminal = true
				}
			}
			if !terminal {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}
	m.items[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockTable) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := m.key(params.Key)
	if err != nil {
		return nil, err
	}
	return &dyn.GetItemOutput{Item: m.items[k]}, nil
}

func (m *mockTable) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := m.key(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

// refTargets maps expression value refs to the attributes they set.
var refTargets = map[string]string{
	":new":     "status",
	":pending": "status",
	":rc":      "retry_count",
	":next":    "next_attempt_at",
	":err":     "last_error",
	":ua":      "updated_at",
	":soid":    "supplier_order_id",
	":fs":      "fulfillment_status",
}

func (m *mockTable) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := m.key(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil {
		if !m.statusCondition(*params.ConditionExpression, params.ExpressionAttributeValues, item) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	expr := ""
	if params.UpdateExpression != nil {
		expr = *params.UpdateExpression
	}
	for ref, target := range refTargets {
		v, ok := params.ExpressionAttributeValues[ref]
		if !ok {
			continue
		}
		// only apply refs the SET clause actually names
		if !strings.Contains(expr, ref) || !strings.Contains(expr, "= "+ref) {
			continue
		}
		item[target] = v
	}
	m.items[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockTable) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if len(params.ExclusiveStartKey) != 0 {
		after, err := m.key(params.ExclusiveStartKey)
		if err != nil {
			return nil, err
		}
		for i, k := range keys {
			if k == after {
				start = i + 1
				break
			}
		}
	}

	filter := ""
	if params.FilterExpression != nil {
		filter = *params.FilterExpression
	}
	out := &dyn.ScanOutput{}
	for i := start; i < len(keys); i++ {
		item := m.items[keys[i]]
		matched := false
		switch filter {
		case "":
			matched = true
		case "#s = :pending AND next_attempt_at <= :now":
			pending := params.ExpressionAttributeValues[":pending"].(*types.AttributeValueMemberS).Value
			now, _ := strconv.ParseInt(params.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
			next, ok := item["next_attempt_at"].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			at, _ := strconv.ParseInt(next.Value, 10, 64)
			matched = m.status(item) == pending && at <= now
		case "sku = :sku":
			want := params.ExpressionAttributeValues[":sku"].(*types.AttributeValueMemberS).Value
			sku, ok := item["sku"].(*types.AttributeValueMemberS)
			matched = ok && sku.Value == want
		default:
			return nil, errors.New("unsupported filter: " + filter)
		}
		if !matched {
			continue
		}
		out.Items = append(out.Items, item)
		if m.pageSize > 0 && len(out.Items) >= m.pageSize && i+1 < len(keys) {
			out.LastEvaluatedKey = map[string]types.AttributeValue{m.keyAttr: item[m.keyAttr]}
			break
		}
	}
	return out, nil
}

func (m *mockTable) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return &dyn.TransactWriteItemsOutput{}, nil
}
