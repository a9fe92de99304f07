package memory

import (
	"context"
	"fmt"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/pkg/errors"
)

type connectionStore struct {
	store   *Store
	journal *journal
}

func (c *connectionStore) GetByID(ctx context.Context, id string) (*entities.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	conn, ok := c.store.connections[id]
	if !ok {
		return nil, errors.NewNotFoundError("Connection")
	}
	return conn.Clone(), nil
}

func (c *connectionStore) FindByPair(ctx context.Context, pair valueobjects.NodePair) (*entities.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	id, ok := c.store.pairIndex[pair.Key()]
	if !ok {
		return nil, errors.NewNotFoundError("Connection")
	}
	return c.store.connections[id].Clone(), nil
}

func (c *connectionStore) Create(ctx context.Context, pair valueobjects.NodePair, connType entities.ConnectionType, metadata map[string]interface{}) (*entities.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := entities.NewConnection(pair, connType, metadata, c.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	key := pair.Key()
	if _, exists := c.store.pairIndex[key]; exists {
		return nil, errors.NewConflictError(fmt.Sprintf("connection between %s and %s already exists", pair.A(), pair.B()))
	}
	c.store.connections[conn.ID] = conn
	c.store.pairIndex[key] = conn.ID

	s := c.store
	c.journal.record(func() {
		delete(s.connections, conn.ID)
		delete(s.pairIndex, key)
	})
	return conn.Clone(), nil
}

func (c *connectionStore) Update(ctx context.Context, id string, update entities.ConnectionUpdate) (*entities.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	current, ok := c.store.connections[id]
	if !ok {
		return nil, errors.NewNotFoundError("Connection")
	}
	next, err := current.Apply(update, c.store.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	c.store.connections[id] = next

	s := c.store
	c.journal.record(func() {
		s.connections[id] = current
	})
	return next.Clone(), nil
}

func (c *connectionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	current, ok := c.store.connections[id]
	if !ok {
		return errors.NewNotFoundError("Connection")
	}
	key := current.PairKey()
	delete(c.store.connections, id)
	delete(c.store.pairIndex, key)

	s := c.store
	c.journal.record(func() {
		s.connections[id] = current
		s.pairIndex[key] = id
	})
	return nil
}
