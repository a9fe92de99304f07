package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

const (
	// batchWriteLimit is the DynamoDB limit for one BatchWriteItem call
	batchWriteLimit = 25

	maxUnprocessedRetries = 5
)

type historyLedger struct {
	store *Store
	buf   *txBuffer
}

func (h *historyLedger) Record(ctx context.Context, draft history.Draft) (*history.Entry, error) {
	id, err := history.NewEntryID()
	if err != nil {
		return nil, errors.NewInternalError("failed to generate history id").WithCause(err)
	}
	entry, err := draft.Seal(id, h.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	item, err := newHistoryItem(entry)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("history entry cannot be stored: %v", err))
	}
	cond, err := condition(expression.AttributeNotExists(expression.Name("PK")))
	if err != nil {
		return nil, errors.NewInternalError("failed to build condition").WithCause(err)
	}

	w := &write{key: keyOf(item.PK, item.SK), item: av, cond: cond}
	if h.buf == nil {
		if err := h.store.execute(ctx, "append history entry", w); err != nil {
			return nil, err
		}
		return entry, nil
	}
	h.buf.stage(item.PK, item.SK, w)
	h.buf.entries[id] = entry.Clone()
	return entry, nil
}

func (h *historyLedger) GetByID(ctx context.Context, id string) (*history.Entry, error) {
	if h.buf != nil {
		if e, ok := h.buf.entries[id]; ok {
			return e.Clone(), nil
		}
	}
	av, err := h.store.getItem(ctx, "get history entry", historyPK(id), historySK)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, errors.NewNotFoundError("History entry")
	}
	entry, err := unmarshalEntry(av)
	if err != nil {
		return nil, errors.NewDatabaseError("decode history entry", err)
	}
	return entry, nil
}

func (h *historyLedger) QueryByPair(ctx context.Context, pair valueobjects.NodePair, page history.Page) ([]*history.Entry, error) {
	page = pageOrDefault(page)
	entries, err := h.queryIndex(ctx, "query history by pair", h.store.cfg.GSI1Name, "GSI1PK", pairHistoryKey(pair.Key()), page.Offset+page.Limit)
	if err != nil {
		return nil, err
	}
	return page.Window(entries), nil
}

func (h *historyLedger) QueryByActor(ctx context.Context, actorID string, page history.Page) ([]*history.Entry, error) {
	page = pageOrDefault(page)
	entries, err := h.queryIndex(ctx, "query history by actor", h.store.cfg.GSI2Name, "GSI2PK", actorHistoryKey(actorID), page.Offset+page.Limit)
	if err != nil {
		return nil, err
	}
	return page.Window(entries), nil
}

// QueryByNodes has no index to use, so it scans and sorts client side
func (h *historyLedger) QueryByNodes(ctx context.Context, nodeIDs []string, page history.Page) ([]*history.Entry, error) {
	if len(nodeIDs) == 0 {
		return []*history.Entry{}, nil
	}
	page = pageOrDefault(page)

	values := make([]expression.OperandBuilder, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		values = append(values, expression.Value(id))
	}
	touches := expression.Or(
		expression.Name("NodeA").In(values[0], values[1:]...),
		expression.Name("NodeB").In(values[0], values[1:]...),
	)
	filter := expression.Name("EntityType").Equal(expression.Value(entityHistory)).And(touches)

	entries, err := h.scanEntries(ctx, "query history by nodes", filter)
	if err != nil {
		return nil, err
	}
	history.SortNewestFirst(entries)
	return page.Window(entries), nil
}

func (h *historyLedger) Stats(ctx context.Context, actorID string) (*history.Stats, error) {
	var (
		entries []*history.Entry
		err     error
	)
	if actorID != "" {
		entries, err = h.queryIndex(ctx, "history stats", h.store.cfg.GSI2Name, "GSI2PK", actorHistoryKey(actorID), -1)
	} else {
		entries, err = h.scanEntries(ctx, "history stats", expression.Name("EntityType").Equal(expression.Value(entityHistory)))
		history.SortNewestFirst(entries)
	}
	if err != nil {
		return nil, err
	}

	stats := &history.Stats{RecentActivity: make([]*history.Entry, 0, history.RecentActivityLimit)}
	for _, e := range entries {
		stats.Add(e.ChangeType, 1)
	}
	stats.RecentActivity = append(stats.RecentActivity, history.Page{Limit: history.RecentActivityLimit}.Window(entries)...)
	return stats, nil
}

// Cleanup deletes in batches and is not part of any unit of work; a run
// interrupted midway leaves the remaining old entries for the next sweep.
func (h *historyLedger) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, errors.NewValidationError("olderThanDays must not be negative")
	}
	cutoff := utils.RetentionCutoff(h.store.clock(), olderThanDays)

	filter := expression.Name("EntityType").Equal(expression.Value(entityHistory)).
		And(expression.Name("CreatedAtNanos").LessThan(expression.Value(cutoff.UnixNano())))
	proj := expression.NamesList(expression.Name("PK"), expression.Name("SK"))
	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(proj).Build()
	if err != nil {
		return 0, errors.NewInternalError("failed to build cleanup scan").WithCause(err)
	}

	keys := make([]map[string]types.AttributeValue, 0)
	err = h.scan(ctx, "scan expired history", &dynamodb.ScanInput{
		TableName:                 aws.String(h.store.cfg.TableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, func(item map[string]types.AttributeValue) error {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(keys) {
			end = len(keys)
		}
		if err := h.deleteBatch(ctx, keys[start:end]); err != nil {
			h.store.logger.Error("History cleanup stopped early",
				zap.Int("deleted", deleted),
				zap.Int("matched", len(keys)),
				zap.Error(err),
			)
			return deleted, err
		}
		deleted += end - start
	}
	return deleted, nil
}

func (h *historyLedger) deleteBatch(ctx context.Context, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}
	pending := map[string][]types.WriteRequest{h.store.cfg.TableName: requests}

	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		out, err := h.store.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return classify("delete expired history", err)
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		if attempt >= maxUnprocessedRetries {
			return errors.NewUnavailableError("dynamodb")
		}
		pending = out.UnprocessedItems

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// queryIndex reads an index partition newest first, stopping once limit
// entries are collected. A negative limit reads the whole partition.
func (h *historyLedger) queryIndex(ctx context.Context, op, index, pkAttr, pkValue string, limit int) ([]*history.Entry, error) {
	keyCond := expression.Key(pkAttr).Equal(expression.Value(pkValue))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, errors.NewInternalError("failed to build history query").WithCause(err)
	}

	entries := make([]*history.Entry, 0)
	var lastKey map[string]types.AttributeValue
	for {
		out, err := h.store.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(h.store.cfg.TableName),
			IndexName:                 aws.String(index),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ScanIndexForward:          aws.Bool(false),
			ExclusiveStartKey:         lastKey,
		})
		if err != nil {
			return nil, classify(op, err)
		}
		for _, item := range out.Items {
			e, err := unmarshalEntry(item)
			if err != nil {
				return nil, errors.NewDatabaseError(op, err)
			}
			entries = append(entries, e)
		}
		if limit >= 0 && len(entries) >= limit {
			break
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		lastKey = out.LastEvaluatedKey
	}
	return entries, nil
}

func (h *historyLedger) scanEntries(ctx context.Context, op string, filter expression.ConditionBuilder) ([]*history.Entry, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, errors.NewInternalError("failed to build history scan").WithCause(err)
	}
	entries := make([]*history.Entry, 0)
	err = h.scan(ctx, op, &dynamodb.ScanInput{
		TableName:                 aws.String(h.store.cfg.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, func(item map[string]types.AttributeValue) error {
		e, err := unmarshalEntry(item)
		if err != nil {
			return errors.NewDatabaseError(op, err)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

func (h *historyLedger) scan(ctx context.Context, op string, in *dynamodb.ScanInput, each func(map[string]types.AttributeValue) error) error {
	for {
		out, err := h.store.client.Scan(ctx, in)
		if err != nil {
			return classify(op, err)
		}
		for _, item := range out.Items {
			if err := each(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func pageOrDefault(p history.Page) history.Page {
	if p.Limit <= 0 {
		p.Limit = history.DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
