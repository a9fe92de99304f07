package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

const connectionColumns = `id, node_a, node_b, type, metadata, version, created_at, updated_at`

type connectionStore struct {
	q     queryer
	clock utils.Clock
}

func scanConnection(row interface{ Scan(...interface{}) error }) (*entities.Connection, error) {
	var (
		id, nodeA, nodeB, connType string
		metadata                   sql.NullString
		version                    int
		createdAt, updatedAt       int64
	)
	if err := row.Scan(&id, &nodeA, &nodeB, &connType, &metadata, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	meta, err := decodeJSON(metadata)
	if err != nil {
		return nil, err
	}
	a, err := valueobjects.NewNodeIDFromString(nodeA)
	if err != nil {
		return nil, err
	}
	b, err := valueobjects.NewNodeIDFromString(nodeB)
	if err != nil {
		return nil, err
	}
	return &entities.Connection{
		ID:        id,
		NodeA:     a,
		NodeB:     b,
		Type:      entities.ConnectionType(connType),
		Metadata:  meta,
		Version:   version,
		CreatedAt: fromNanos(createdAt),
		UpdatedAt: fromNanos(updatedAt),
	}, nil
}

func (c *connectionStore) get(ctx context.Context, where string, arg interface{}) (*entities.Connection, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE `+where, arg)
	conn, err := scanConnection(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("Connection")
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get connection", err)
	}
	return conn, nil
}

func (c *connectionStore) GetByID(ctx context.Context, id string) (*entities.Connection, error) {
	return c.get(ctx, `id = ?`, id)
}

func (c *connectionStore) FindByPair(ctx context.Context, pair valueobjects.NodePair) (*entities.Connection, error) {
	return c.get(ctx, `pair_key = ?`, pair.Key())
}

func (c *connectionStore) Create(ctx context.Context, pair valueobjects.NodePair, connType entities.ConnectionType, metadata map[string]interface{}) (*entities.Connection, error) {
	conn, err := entities.NewConnection(pair, connType, metadata, c.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	meta, err := encodeJSON(conn.Metadata)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	_, err = c.q.ExecContext(ctx, `
INSERT INTO connections (id, node_a, node_b, pair_key, type, metadata, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.NodeA.String(), conn.NodeB.String(), conn.PairKey(), string(conn.Type), meta,
		conn.Version, toNanos(conn.CreatedAt), toNanos(conn.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return nil, errors.NewConflictError(fmt.Sprintf("connection between %s and %s already exists", pair.A(), pair.B()))
	}
	if err != nil {
		return nil, errors.NewDatabaseError("insert connection", err)
	}
	return conn, nil
}

func (c *connectionStore) Update(ctx context.Context, id string, update entities.ConnectionUpdate) (*entities.Connection, error) {
	current, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := current.Apply(update, c.clock())
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	meta, err := encodeJSON(next.Metadata)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}

	// the version guard catches writers that bypass the unit of work
	res, err := c.q.ExecContext(ctx, `
UPDATE connections SET type = ?, metadata = ?, version = ?, updated_at = ?
WHERE id = ? AND version = ?`,
		string(next.Type), meta, next.Version, toNanos(next.UpdatedAt), id, current.Version,
	)
	if err != nil {
		return nil, errors.NewDatabaseError("update connection", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, errors.NewConflictError("connection was modified concurrently")
	}
	return next, nil
}

func (c *connectionStore) Delete(ctx context.Context, id string) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return errors.NewDatabaseError("delete connection", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("delete connection", err)
	}
	if n == 0 {
		return errors.NewNotFoundError("Connection")
	}
	return nil
}
