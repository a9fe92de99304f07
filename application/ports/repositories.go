package ports

import (
	"context"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/events"
	"brain2-connections/domain/history"
)

// ConnectionStore holds present-state connections.
// This is a port in hexagonal architecture - the domain doesn't know about the implementation.
// Missing connections are reported with errors.IsNotFound.
type ConnectionStore interface {
	// GetByID retrieves a connection by its ID
	GetByID(ctx context.Context, id string) (*entities.Connection, error)

	// FindByPair retrieves the connection between two nodes in either order
	FindByPair(ctx context.Context, pair valueobjects.NodePair) (*entities.Connection, error)

	// Create stores a new connection; fails with a conflict if the pair is taken
	Create(ctx context.Context, pair valueobjects.NodePair, connType entities.ConnectionType, metadata map[string]interface{}) (*entities.Connection, error)

	// Update applies fields to an existing connection and returns the result
	Update(ctx context.Context, id string, update entities.ConnectionUpdate) (*entities.Connection, error)

	// Delete removes a connection
	Delete(ctx context.Context, id string) error
}

// HistoryLedger is the append-only store of history entries.
// Every query orders results by createdAt descending, id descending on ties.
type HistoryLedger interface {
	// Record assigns an id and server timestamp and appends the entry
	Record(ctx context.Context, draft history.Draft) (*history.Entry, error)

	// GetByID retrieves one entry
	GetByID(ctx context.Context, id string) (*history.Entry, error)

	// QueryByPair returns entries for the pair in either node order
	QueryByPair(ctx context.Context, pair valueobjects.NodePair, page history.Page) ([]*history.Entry, error)

	// QueryByActor returns entries recorded by one actor
	QueryByActor(ctx context.Context, actorID string, page history.Page) ([]*history.Entry, error)

	// QueryByNodes returns entries whose nodeA or nodeB is in the set
	QueryByNodes(ctx context.Context, nodeIDs []string, page history.Page) ([]*history.Entry, error)

	// Stats aggregates entries, scoped to actorID when it is not empty
	Stats(ctx context.Context, actorID string) (*history.Stats, error)

	// Cleanup deletes entries created strictly before now minus olderThanDays
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

// Tx exposes the stores bound to one unit of work
type Tx interface {
	Connections() ConnectionStore
	History() HistoryLedger
}

// UnitOfWork defines a transaction boundary for a node pair.
// Work for the same pair is serialized; connection and ledger writes made
// through the Tx commit together, and any error from fn discards them all.
type UnitOfWork interface {
	Within(ctx context.Context, pair valueobjects.NodePair, fn func(ctx context.Context, tx Tx) error) error
}

// Store bundles the read-side stores with the unit of work
type Store interface {
	UnitOfWork
	Connections() ConnectionStore
	History() HistoryLedger
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Metrics receives counters from the services
type Metrics interface {
	LedgerAppended(changeType history.ChangeType)
	RollbackCompleted(outcome string)
	EntriesPurged(count int)
}

// NoopMetrics discards everything
type NoopMetrics struct{}

func (NoopMetrics) LedgerAppended(history.ChangeType) {}
func (NoopMetrics) RollbackCompleted(string)          {}
func (NoopMetrics) EntriesPurged(int)                 {}
