package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
)

// CreateConnectionCommand asks for a new connection between two nodes
type CreateConnectionCommand struct {
	NodeA    string
	NodeB    string
	Type     entities.ConnectionType
	Metadata map[string]interface{}
	Actor    valueobjects.Actor
	Reason   string
}

// UpdateConnectionCommand changes the type and/or metadata of a connection
type UpdateConnectionCommand struct {
	ConnectionID    string
	Type            *entities.ConnectionType
	Metadata        map[string]interface{}
	ReplaceMetadata bool
	Actor           valueobjects.Actor
	Reason          string
}

// DeleteConnectionCommand removes a connection
type DeleteConnectionCommand struct {
	ConnectionID string
	Actor        valueobjects.Actor
	Reason       string
}

// MutationResult is a committed mutation together with its ledger entry
type MutationResult struct {
	Connection *entities.Connection `json:"connection,omitempty"`
	Entry      *history.Entry       `json:"historyEntry"`
}

// ConnectionService is the normal mutation path. Each mutation and its
// history entry are written in one unit of work, so neither exists without
// the other.
type ConnectionService struct {
	store     ports.Store
	publisher ports.EventPublisher
	metrics   ports.Metrics
	logger    *zap.Logger
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	store ports.Store,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	logger *zap.Logger,
) *ConnectionService {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &ConnectionService{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// FindByPair returns the connection between two nodes in either order
func (s *ConnectionService) FindByPair(ctx context.Context, nodeA, nodeB string) (*entities.Connection, error) {
	pair, err := valueobjects.NewNodePairFromStrings(nodeA, nodeB)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	return s.store.Connections().FindByPair(ctx, pair)
}

// Create creates a connection and records a CREATED entry
func (s *ConnectionService) Create(ctx context.Context, cmd CreateConnectionCommand) (*MutationResult, error) {
	pair, err := valueobjects.NewNodePairFromStrings(cmd.NodeA, cmd.NodeB)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if cmd.Actor.IsZero() {
		return nil, errors.NewValidationError("actor is required")
	}
	connType := cmd.Type.OrDefault()
	if !connType.IsValid() {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown connection type %q", cmd.Type))
	}

	var result MutationResult
	err = s.store.Within(ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.Connections().FindByPair(ctx, pair)
		if err == nil {
			return errors.NewConflictError(fmt.Sprintf("connection between %s and %s already exists", pair.A(), pair.B()))
		}
		if !errors.IsNotFound(err) {
			return err
		}

		conn, err := tx.Connections().Create(ctx, pair, connType, cmd.Metadata)
		if err != nil {
			return err
		}
		entry, err := tx.History().Record(ctx, history.Draft{
			ConnectionID: &conn.ID,
			Pair:         pair,
			ChangeType:   history.ChangeCreated,
			Actor:        cmd.Actor,
			After:        history.SnapshotOf(conn),
			Reason:       cmd.Reason,
		})
		if err != nil {
			return err
		}
		result = MutationResult{Connection: conn, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Connection created",
		zap.String("connectionID", result.Connection.ID),
		zap.String("pair", pair.Key()),
		zap.String("historyID", result.Entry.ID),
		zap.String("actorID", cmd.Actor.ID),
	)
	committed(ctx, s.publisher, s.metrics, s.logger, result.Entry)
	return &result, nil
}

// Update changes a connection and records a MODIFIED entry.
// Updates that would leave the connection unchanged are rejected.
func (s *ConnectionService) Update(ctx context.Context, cmd UpdateConnectionCommand) (*MutationResult, error) {
	if cmd.ConnectionID == "" {
		return nil, errors.NewValidationError("connection ID is required")
	}
	if cmd.Actor.IsZero() {
		return nil, errors.NewValidationError("actor is required")
	}
	update := entities.ConnectionUpdate{Type: cmd.Type, Metadata: cmd.Metadata, ReplaceMetadata: cmd.ReplaceMetadata}
	if update.IsEmpty() {
		return nil, errors.NewValidationError("update must change type or metadata")
	}

	// the pair of a connection never changes, so it is safe to resolve it
	// before taking the pair's lock
	existing, err := s.store.Connections().GetByID(ctx, cmd.ConnectionID)
	if err != nil {
		return nil, err
	}
	pair := existing.Pair()

	var result MutationResult
	err = s.store.Within(ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		current, err := tx.Connections().GetByID(ctx, cmd.ConnectionID)
		if err != nil {
			return err
		}
		preview, err := current.Apply(update, current.UpdatedAt)
		if err != nil {
			return errors.NewValidationError(err.Error())
		}
		if preview.SameContent(current) {
			return errors.NewValidationError("update does not change the connection")
		}

		updated, err := tx.Connections().Update(ctx, current.ID, update)
		if err != nil {
			return err
		}
		entry, err := tx.History().Record(ctx, history.Draft{
			ConnectionID: &updated.ID,
			Pair:         pair,
			ChangeType:   history.ChangeModified,
			Actor:        cmd.Actor,
			Before:       history.SnapshotOf(current),
			After:        history.SnapshotOf(updated),
			Reason:       cmd.Reason,
		})
		if err != nil {
			return err
		}
		result = MutationResult{Connection: updated, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Connection updated",
		zap.String("connectionID", result.Connection.ID),
		zap.Int("version", result.Connection.Version),
		zap.String("historyID", result.Entry.ID),
		zap.String("actorID", cmd.Actor.ID),
	)
	committed(ctx, s.publisher, s.metrics, s.logger, result.Entry)
	return &result, nil
}

// Delete removes a connection and records a DELETED entry
func (s *ConnectionService) Delete(ctx context.Context, cmd DeleteConnectionCommand) (*MutationResult, error) {
	if cmd.ConnectionID == "" {
		return nil, errors.NewValidationError("connection ID is required")
	}
	if cmd.Actor.IsZero() {
		return nil, errors.NewValidationError("actor is required")
	}

	existing, err := s.store.Connections().GetByID(ctx, cmd.ConnectionID)
	if err != nil {
		return nil, err
	}
	pair := existing.Pair()

	var result MutationResult
	err = s.store.Within(ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		current, err := tx.Connections().GetByID(ctx, cmd.ConnectionID)
		if err != nil {
			return err
		}
		if err := tx.Connections().Delete(ctx, current.ID); err != nil {
			return err
		}
		entry, err := tx.History().Record(ctx, history.Draft{
			Pair:       pair,
			ChangeType: history.ChangeDeleted,
			Actor:      cmd.Actor,
			Before:     history.SnapshotOf(current),
			Reason:     cmd.Reason,
		})
		if err != nil {
			return err
		}
		result = MutationResult{Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Connection deleted",
		zap.String("connectionID", cmd.ConnectionID),
		zap.String("historyID", result.Entry.ID),
		zap.String("actorID", cmd.Actor.ID),
	)
	committed(ctx, s.publisher, s.metrics, s.logger, result.Entry)
	return &result, nil
}
