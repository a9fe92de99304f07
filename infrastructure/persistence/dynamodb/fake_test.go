package dynamodb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is a single-table in-memory stand-in for DynamoDB. It evaluates
// the handful of condition shapes the store writes and approximates the
// history scan filters by their attribute values.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	pageSize int

	transactCalls   [][]types.TransactWriteItem
	batchCalls      int
	unprocessedOnce int
	failNext        error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 3}
}

var indexKeys = map[string][2]string{
	"GSI1": {"GSI1PK", "GSI1SK"},
	"GSI2": {"GSI2PK", "GSI2SK"},
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func keyString(key map[string]types.AttributeValue) string {
	return itemKey(str(key["PK"]), str(key["SK"]))
}

func (f *fakeDynamo) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

var notExistsRe = regexp.MustCompile(`^attribute_not_exists\s*\(\s*(\S+)\s*\)$`)

func resolveName(s string, names map[string]string) string {
	if strings.HasPrefix(s, "#") {
		return names[s]
	}
	return s
}

// holds evaluates cond against item (nil when absent)
func holds(item map[string]types.AttributeValue, cond *string, names map[string]string, values map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	for _, alt := range strings.Split(*cond, " OR ") {
		ok := true
		for _, clause := range strings.Split(alt, " AND ") {
			clause = strings.TrimSpace(clause)
			if m := notExistsRe.FindStringSubmatch(clause); m != nil {
				if item != nil {
					if _, present := item[resolveName(m[1], names)]; present {
						ok = false
					}
				}
				continue
			}
			clause = strings.TrimSuffix(strings.TrimPrefix(clause, "("), ")")
			var op string
			var parts []string
			if parts = strings.SplitN(clause, " = ", 2); len(parts) == 2 {
				op = "="
			} else if parts = strings.SplitN(clause, " < ", 2); len(parts) == 2 {
				op = "<"
			} else {
				panic("fake dynamo cannot evaluate " + clause)
			}
			if item == nil {
				ok = false
				continue
			}
			have, present := item[resolveName(strings.TrimSpace(parts[0]), names)]
			want := values[strings.TrimSpace(parts[1])]
			if !present {
				ok = false
				continue
			}
			switch op {
			case "=":
				ok = ok && str(have) == str(want)
			case "<":
				a, _ := strconv.ParseInt(str(have), 10, 64)
				b, _ := strconv.ParseInt(str(want), 10, 64)
				ok = ok && a < b
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyString(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	k := keyString(in.Item)
	if !holds(f.items[k], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	k := keyString(in.Key)
	if !holds(f.items[k], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	attrs, ok := indexKeys[aws.ToString(in.IndexName)]
	if !ok {
		return nil, fmt.Errorf("fake dynamo: unknown index %q", aws.ToString(in.IndexName))
	}
	var want string
	for _, v := range in.ExpressionAttributeValues {
		want = str(v)
	}

	matched := make([]map[string]types.AttributeValue, 0)
	for _, item := range f.items {
		if str(item[attrs[0]]) == want {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := str(matched[i][attrs[1]]), str(matched[j][attrs[1]])
		if aws.ToBool(in.ScanIndexForward) || in.ScanIndexForward == nil {
			return a < b
		}
		return a > b
	})
	limit := f.pageSize
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	items, last := f.page(matched, in.ExclusiveStartKey, limit)
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}

	var before *int64
	nodes := map[string]bool{}
	for _, v := range in.ExpressionAttributeValues {
		switch tv := v.(type) {
		case *types.AttributeValueMemberN:
			n, _ := strconv.ParseInt(tv.Value, 10, 64)
			before = &n
		case *types.AttributeValueMemberS:
			if tv.Value != entityHistory {
				nodes[tv.Value] = true
			}
		}
	}

	matched := make([]map[string]types.AttributeValue, 0)
	for _, item := range f.items {
		if str(item["EntityType"]) != entityHistory {
			continue
		}
		if before != nil {
			n, _ := strconv.ParseInt(str(item["CreatedAtNanos"]), 10, 64)
			if n >= *before {
				continue
			}
		}
		if len(nodes) > 0 && !nodes[str(item["NodeA"])] && !nodes[str(item["NodeB"])] {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool { return str(matched[i]["PK"]) < str(matched[j]["PK"]) })
	items, last := f.page(matched, in.ExclusiveStartKey, f.pageSize)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last}, nil
}

// page returns up to limit items after start and the key to resume from
func (f *fakeDynamo) page(items []map[string]types.AttributeValue, start map[string]types.AttributeValue, limit int) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	from := 0
	if len(start) > 0 {
		startKey := keyString(start)
		for i, item := range items {
			if keyString(item) == startKey {
				from = i + 1
				break
			}
		}
	}
	end := from + limit
	if end >= len(items) {
		return items[from:], nil
	}
	last := items[end-1]
	return items[from:end], map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range in.RequestItems {
		if len(reqs) > batchWriteLimit {
			return nil, fmt.Errorf("fake dynamo: %d requests exceed the batch limit", len(reqs))
		}
		for i, r := range reqs {
			if f.unprocessedOnce > 0 && i >= len(reqs)-f.unprocessedOnce {
				if out.UnprocessedItems == nil {
					out.UnprocessedItems = map[string][]types.WriteRequest{}
				}
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			delete(f.items, keyString(r.DeleteRequest.Key))
		}
	}
	f.unprocessedOnce = 0
	return out, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	f.transactCalls = append(f.transactCalls, in.TransactItems)

	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var k string
		var ok bool
		switch {
		case ti.Put != nil:
			k = keyString(ti.Put.Item)
			ok = holds(f.items[k], ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues)
		case ti.Delete != nil:
			k = keyString(ti.Delete.Key)
			ok = holds(f.items[k], ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues)
		}
		if seen[k] {
			return nil, fmt.Errorf("fake dynamo: transaction touches %s twice", k)
		}
		seen[k] = true
		reasons[i].Code = aws.String("None")
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		if ti.Put != nil {
			f.items[keyString(ti.Put.Item)] = ti.Put.Item
		} else {
			delete(f.items, keyString(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) count(entityType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if str(item["EntityType"]) == entityType {
			n++
		}
	}
	return n
}

var _ DynamoAPI = (*fakeDynamo)(nil)
