package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeTable is an in-memory table keyed by PK that understands the few
// expressions the repositories send.
type fakeTable struct {
	mu     sync.Mutex
	items  map[string]map[string]types.AttributeValue
	putErr error
	calls  map[string]int
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		items: make(map[string]map[string]types.AttributeValue),
		calls: make(map[string]int),
	}
}

func pkOf(item map[string]types.AttributeValue) string {
	if v, ok := item[attrPK].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["GetItem"]++
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk := pkOf(in.Item)
	if in.ConditionExpression != nil && strings.HasPrefix(*in.ConditionExpression, "attribute_not_exists") {
		if _, exists := f.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	pk := pkOf(in.Key)
	old, ok := f.items[pk]
	delete(f.items, pk)
	out := &dynamodb.DeleteItemOutput{}
	if ok && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Query"]++

	want, ok := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("fake query expects :pk")
	}

	matched := make([]map[string]types.AttributeValue, 0)
	for _, item := range f.items {
		if v, ok := item[attrGSI1PK].(*types.AttributeValueMemberS); ok && v.Value == want.Value {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a := matched[i][attrGSI1SK].(*types.AttributeValueMemberS).Value
		b := matched[j][attrGSI1SK].(*types.AttributeValueMemberS).Value
		return a > b
	})

	if in.ExclusiveStartKey != nil {
		startPK := pkOf(in.ExclusiveStartKey)
		for i, item := range matched {
			if pkOf(item) == startPK {
				matched = matched[i+1:]
				break
			}
		}
	}

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			attrPK:     last[attrPK],
			attrGSI1PK: last[attrGSI1PK],
			attrGSI1SK: last[attrGSI1SK],
		}
	}
	out.Items = matched
	return out, nil
}

// Scan понимает только фильтр begins_with(#pk, :prefix)
func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Scan"]++

	prefix := ""
	if v, ok := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS); ok {
		prefix = v.Value
	}
	items := make([]map[string]types.AttributeValue, 0, len(f.items))
	for pk, item := range f.items {
		if strings.HasPrefix(pk, prefix) {
			items = append(items, item)
		}
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}
