package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/pkg/errors"
)

type connectionStore struct {
	store *Store
	buf   *txBuffer
}

func (c *connectionStore) GetByID(ctx context.Context, id string) (*entities.Connection, error) {
	if c.buf != nil {
		if _, gone := c.buf.deleted[id]; gone {
			return nil, errors.NewNotFoundError("Connection")
		}
		if conn, _, ok := c.buf.connectionByID(id); ok {
			return conn.Clone(), nil
		}
	}

	keyCond := expression.Key("GSI1PK").Equal(expression.Value(connectionByIDKey(id)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, errors.NewInternalError("failed to build connection query").WithCause(err)
	}
	out, err := c.store.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(c.store.cfg.TableName),
		IndexName:                 aws.String(c.store.cfg.GSI1Name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify("get connection", err)
	}
	if len(out.Items) == 0 {
		return nil, errors.NewNotFoundError("Connection")
	}
	var indexed connectionItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &indexed); err != nil {
		return nil, errors.NewDatabaseError("get connection", err)
	}

	// the index is eventually consistent; confirm against the base table
	conn, err := c.loadPair(ctx, indexed.PairKey)
	if err != nil {
		return nil, err
	}
	if conn.ID != id {
		return nil, errors.NewNotFoundError("Connection")
	}
	return conn, nil
}

func (c *connectionStore) FindByPair(ctx context.Context, pair valueobjects.NodePair) (*entities.Connection, error) {
	if c.buf != nil {
		if conn, ok := c.buf.connectionByPair(pair.Key()); ok {
			if conn == nil {
				return nil, errors.NewNotFoundError("Connection")
			}
			return conn.Clone(), nil
		}
	}
	return c.loadPair(ctx, pair.Key())
}

func (c *connectionStore) loadPair(ctx context.Context, pairKey string) (*entities.Connection, error) {
	av, err := c.store.getItem(ctx, "get connection", connectionPK(pairKey), connectionSK)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, errors.NewNotFoundError("Connection")
	}
	conn, err := unmarshalConnection(av)
	if err != nil {
		return nil, errors.NewDatabaseError("decode connection", err)
	}
	return conn, nil
}

func (c *connectionStore) Create(ctx context.Context, pair valueobjects.NodePair, connType entities.ConnectionType, metadata map[string]interface{}) (*entities.Connection, error) {
	conflict := errors.NewConflictError(fmt.Sprintf("connection between %s and %s already exists", pair.A(), pair.B()))

	if _, err := c.FindByPair(ctx, pair); err == nil {
		return nil, conflict
	} else if !errors.IsNotFound(err) {
		return nil, err
	}

	conn, err := entities.NewConnection(pair, connType, metadata, c.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	cond, err := condition(expression.AttributeNotExists(expression.Name("PK")))
	if err != nil {
		return nil, errors.NewInternalError("failed to build condition").WithCause(err)
	}
	if err := c.put(ctx, "create connection", conn, cond); err != nil {
		if errors.IsConflict(err) {
			return nil, conflict
		}
		return nil, err
	}
	return conn.Clone(), nil
}

func (c *connectionStore) Update(ctx context.Context, id string, update entities.ConnectionUpdate) (*entities.Connection, error) {
	current, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := current.Apply(update, c.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	cond, err := versionIs(current.Version)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, "update connection", next, cond); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (c *connectionStore) Delete(ctx context.Context, id string) error {
	current, err := c.GetByID(ctx, id)
	if err != nil {
		return err
	}
	cond, err := versionIs(current.Version)
	if err != nil {
		return err
	}
	pk := connectionPK(current.PairKey())
	w := &write{key: keyOf(pk, connectionSK), cond: cond}

	if c.buf == nil {
		return c.store.execute(ctx, "delete connection", w)
	}
	c.buf.stage(pk, connectionSK, w)
	c.buf.connections[current.PairKey()] = nil
	c.buf.deleted[id] = struct{}{}
	return nil
}

func (c *connectionStore) put(ctx context.Context, op string, conn *entities.Connection, cond *expression.Expression) error {
	item, err := attributevalue.MarshalMap(newConnectionItem(conn))
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("connection metadata cannot be stored: %v", err))
	}
	pk := connectionPK(conn.PairKey())
	w := &write{key: keyOf(pk, connectionSK), item: item, cond: cond}

	if c.buf == nil {
		return c.store.execute(ctx, op, w)
	}
	c.buf.stage(pk, connectionSK, w)
	c.buf.connections[conn.PairKey()] = conn.Clone()
	return nil
}

// versionIs guards a write against changes made outside the pair lock
func versionIs(version int) (*expression.Expression, error) {
	cond, err := condition(expression.Name("Version").Equal(expression.Value(version)))
	if err != nil {
		return nil, errors.NewInternalError("failed to build condition").WithCause(err)
	}
	return cond, nil
}
