package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	apperrors "brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call
const maxTransactItems = 100

// Config names the table layout and lock timings
type Config struct {
	TableName string
	GSI1Name  string
	GSI2Name  string
	LockTTL   time.Duration
	LockWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.GSI1Name == "" {
		c.GSI1Name = "GSI1"
	}
	if c.GSI2Name == "" {
		c.GSI2Name = "GSI2"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Second
	}
	return c
}

// Store keeps connections and history in one DynamoDB table.
//
// A unit of work holds a distributed lock on the pair, buffers its writes and
// commits them with a single TransactWriteItems call. Reads inside the unit
// of work see the buffered writes for point lookups; index queries only see
// committed data.
type Store struct {
	client DynamoAPI
	cfg    Config
	clock  utils.Clock
	lock   *DistributedLock
	owner  string
	logger *zap.Logger
}

// NewStore creates a store over client. A nil clock means the system clock.
func NewStore(client DynamoAPI, cfg Config, clock utils.Clock, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Store{
		client: client,
		cfg:    cfg,
		clock:  clock,
		lock:   NewDistributedLock(client, cfg.TableName, clock, logger),
		owner:  uuid.NewString(),
		logger: logger,
	}, nil
}

// Connections returns the store outside any unit of work
func (s *Store) Connections() ports.ConnectionStore {
	return &connectionStore{store: s}
}

// History returns the ledger outside any unit of work
func (s *Store) History() ports.HistoryLedger {
	return &historyLedger{store: s}
}

// Within runs fn holding the pair's distributed lock and commits its writes
// in one transaction. Nothing is written when fn fails or panics.
func (s *Store) Within(ctx context.Context, pair valueobjects.NodePair, fn func(ctx context.Context, tx ports.Tx) error) error {
	resource := pairLockResource(pair.Key())
	lock, err := s.lock.TryAcquireLock(ctx, resource, s.owner, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return classify("acquire pair lock", err)
	}
	defer func() {
		// release even when the caller's context is already cancelled
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release pair lock", zap.String("pair", pair.Key()), zap.Error(err))
		}
	}()

	buf := newTxBuffer()
	t := &tx{
		connections: &connectionStore{store: s, buf: buf},
		history:     &historyLedger{store: s, buf: buf},
	}
	if err := fn(ctx, t); err != nil {
		s.logger.Debug("Unit of work discarded",
			zap.String("pair", pair.Key()),
			zap.Int("writes", len(buf.order)),
			zap.Error(err),
		)
		return err
	}

	if lock.IsExpired() {
		return apperrors.NewTimeoutError("unit of work for pair " + pair.Key())
	}
	return s.commit(ctx, buf)
}

func (s *Store) commit(ctx context.Context, buf *txBuffer) error {
	if len(buf.order) == 0 {
		return nil
	}
	if len(buf.order) > maxTransactItems {
		return apperrors.NewValidationError(fmt.Sprintf("unit of work has %d writes, limit is %d", len(buf.order), maxTransactItems))
	}

	items := make([]types.TransactWriteItem, 0, len(buf.order))
	for _, k := range buf.order {
		items = append(items, buf.writes[k].transactItem(s.cfg.TableName))
	}
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return classify("commit unit of work", err)
}

// execute performs w immediately, outside any transaction
func (s *Store) execute(ctx context.Context, op string, w *write) error {
	var err error
	if w.item != nil {
		in := &dynamodb.PutItemInput{TableName: aws.String(s.cfg.TableName), Item: w.item}
		if w.cond != nil {
			in.ConditionExpression = w.cond.Condition()
			in.ExpressionAttributeNames = w.cond.Names()
			in.ExpressionAttributeValues = w.cond.Values()
		}
		_, err = s.client.PutItem(ctx, in)
	} else {
		in := &dynamodb.DeleteItemInput{TableName: aws.String(s.cfg.TableName), Key: w.key}
		if w.cond != nil {
			in.ConditionExpression = w.cond.Condition()
			in.ExpressionAttributeNames = w.cond.Names()
			in.ExpressionAttributeValues = w.cond.Values()
		}
		_, err = s.client.DeleteItem(ctx, in)
	}
	return classify(op, err)
}

// getItem is a strongly consistent read of one item; nil when absent
func (s *Store) getItem(ctx context.Context, op, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.cfg.TableName),
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

type tx struct {
	connections *connectionStore
	history     *historyLedger
}

func (t *tx) Connections() ports.ConnectionStore { return t.connections }
func (t *tx) History() ports.HistoryLedger       { return t.history }

// write is the final action on one item within a unit of work. cond is the
// expectation on the item as it was before the unit of work started.
type write struct {
	key  map[string]types.AttributeValue
	item map[string]types.AttributeValue // nil deletes
	cond *expression.Expression
}

func (w *write) transactItem(table string) types.TransactWriteItem {
	if w.item != nil {
		put := &types.Put{TableName: aws.String(table), Item: w.item}
		if w.cond != nil {
			put.ConditionExpression = w.cond.Condition()
			put.ExpressionAttributeNames = w.cond.Names()
			put.ExpressionAttributeValues = w.cond.Values()
		}
		return types.TransactWriteItem{Put: put}
	}
	del := &types.Delete{TableName: aws.String(table), Key: w.key}
	if w.cond != nil {
		del.ConditionExpression = w.cond.Condition()
		del.ExpressionAttributeNames = w.cond.Names()
		del.ExpressionAttributeValues = w.cond.Values()
	}
	return types.TransactWriteItem{Delete: del}
}

// txBuffer holds the writes of one unit of work and the overlay that lets
// the unit of work read them back
type txBuffer struct {
	order  []string
	writes map[string]*write

	connections map[string]*entities.Connection // by pair key; nil value means deleted
	deleted     map[string]struct{}             // connection ids
	entries     map[string]*history.Entry
}

func newTxBuffer() *txBuffer {
	return &txBuffer{
		writes:      make(map[string]*write),
		connections: make(map[string]*entities.Connection),
		deleted:     make(map[string]struct{}),
		entries:     make(map[string]*history.Entry),
	}
}

// stage records w, collapsing it onto an earlier write of the same item.
// DynamoDB rejects a transaction that touches one item twice.
func (b *txBuffer) stage(pk, sk string, w *write) {
	k := itemKey(pk, sk)
	if prev, ok := b.writes[k]; ok {
		prev.item = w.item
		return
	}
	b.order = append(b.order, k)
	b.writes[k] = w
}

// connectionByPair reports the buffered state of a pair, if any
func (b *txBuffer) connectionByPair(pairKey string) (*entities.Connection, bool) {
	conn, ok := b.connections[pairKey]
	return conn, ok
}

// connectionByID reports the buffered state of a connection id, if any
func (b *txBuffer) connectionByID(id string) (conn *entities.Connection, pairKey string, ok bool) {
	for key, c := range b.connections {
		if c != nil && c.ID == id {
			return c, key, true
		}
	}
	return nil, "", false
}

func condition(c expression.ConditionBuilder) (*expression.Expression, error) {
	expr, err := expression.NewBuilder().WithCondition(c).Build()
	if err != nil {
		return nil, err
	}
	return &expr, nil
}

var (
	_ ports.Store = (*Store)(nil)
)
