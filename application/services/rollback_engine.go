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

// Failure messages returned by the rollback engine
const (
	MsgConnectionNoLongerExists = "Connection no longer exists"
	MsgConnectionAlreadyExists  = "Connection already exists or invalid previous state"
	MsgConnectionNotFound       = "Connection not found or invalid previous state"
	MsgUnknownChangeType        = "Unknown change type"
	MsgConnectionChanged        = "Connection has changed since this change was recorded"
)

// Rollback outcomes reported to metrics
const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomePrecondition      = "precondition"
	OutcomeInvalidChangeType = "invalid_change_type"
	OutcomeError             = "error"
)

// RollbackCommand asks to invert one history entry
type RollbackCommand struct {
	HistoryID string
	Actor     valueobjects.Actor
	Reason    string
}

// RollbackResult is the structured outcome of a rollback attempt.
// Failures carry the message and type; successes carry the new entry.
type RollbackResult struct {
	Success             bool                 `json:"success"`
	Error               string               `json:"error,omitempty"`
	ErrorType           string               `json:"errorType,omitempty"`
	RestoredConnection  *entities.Connection `json:"restoredConnection,omitempty"`
	DeletedConnectionID string               `json:"deletedConnectionId,omitempty"`
	HistoryEntry        *history.Entry       `json:"historyEntry,omitempty"`
}

// RollbackOptions tunes the engine
type RollbackOptions struct {
	// StrictStaleness refuses to invert CREATED and MODIFIED entries when the
	// live connection no longer matches the entry's recorded after state.
	StrictStaleness bool
}

// DefaultRollbackOptions enables every safety check
func DefaultRollbackOptions() RollbackOptions {
	return RollbackOptions{StrictStaleness: true}
}

// RollbackEngine computes and applies the inverse of a recorded change.
// The read of the current connection, the mutation and the new ledger entry
// happen in one unit of work for the entry's pair.
type RollbackEngine struct {
	store     ports.Store
	publisher ports.EventPublisher
	metrics   ports.Metrics
	logger    *zap.Logger
	opts      RollbackOptions
}

// NewRollbackEngine creates a rollback engine
func NewRollbackEngine(
	store ports.Store,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	logger *zap.Logger,
	opts RollbackOptions,
) *RollbackEngine {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &RollbackEngine{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// Rollback inverts the entry named by cmd.HistoryID. The result is always
// non-nil; on failure it is returned together with the typed error.
// Precondition failures must not be retried blindly.
func (e *RollbackEngine) Rollback(ctx context.Context, cmd RollbackCommand) (result *RollbackResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.NewInternalError(fmt.Sprintf("rollback failed: %v", rec))
			result = e.fail(cmd, err)
		}
	}()

	if cmd.Actor.IsZero() {
		err := errors.NewValidationError("actor is required")
		return e.fail(cmd, err), err
	}
	if cmd.HistoryID == "" {
		err := errors.NewNotFoundError("History entry")
		return e.fail(cmd, err), err
	}

	original, err := e.store.History().GetByID(ctx, cmd.HistoryID)
	if err != nil {
		return e.fail(cmd, err), err
	}
	pair, err := valueobjects.NewNodePairFromStrings(original.NodeA, original.NodeB)
	if err != nil {
		err = errors.NewInternalError("history entry has an invalid node pair").WithCause(err)
		return e.fail(cmd, err), err
	}

	var outcome *RollbackResult
	err = e.store.Within(ctx, pair, func(ctx context.Context, tx ports.Tx) error {
		// re-read under the lock; the janitor may have purged it meanwhile
		entry, err := tx.History().GetByID(ctx, cmd.HistoryID)
		if err != nil {
			return err
		}

		current, err := tx.Connections().FindByPair(ctx, pair)
		if err != nil {
			if !errors.IsNotFound(err) {
				return err
			}
			current = nil
		}

		switch entry.ChangeType {
		case history.ChangeCreated:
			outcome, err = e.undoCreate(ctx, tx, entry, current, cmd)
		case history.ChangeDeleted:
			outcome, err = e.undoDelete(ctx, tx, entry, current, cmd)
		case history.ChangeModified:
			outcome, err = e.undoModify(ctx, tx, entry, current, cmd)
		default:
			err = errors.NewInvalidChangeTypeError(MsgUnknownChangeType)
		}
		return err
	})
	if err != nil {
		return e.fail(cmd, err), err
	}

	e.metrics.RollbackCompleted(OutcomeSuccess)
	e.logger.Info("Rollback applied",
		zap.String("historyID", cmd.HistoryID),
		zap.String("newHistoryID", outcome.HistoryEntry.ID),
		zap.String("changeType", string(outcome.HistoryEntry.ChangeType)),
		zap.String("actorID", cmd.Actor.ID),
	)
	committed(ctx, e.publisher, e.metrics, e.logger, outcome.HistoryEntry)
	return outcome, nil
}

// undoCreate deletes the connection a CREATED entry introduced
func (e *RollbackEngine) undoCreate(ctx context.Context, tx ports.Tx, entry *history.Entry, current *entities.Connection, cmd RollbackCommand) (*RollbackResult, error) {
	if current == nil {
		return nil, errors.NewPreconditionError(MsgConnectionNoLongerExists)
	}
	if err := e.checkStaleness(entry, current); err != nil {
		return nil, err
	}

	if err := tx.Connections().Delete(ctx, current.ID); err != nil {
		return nil, err
	}
	recorded, err := tx.History().Record(ctx, history.Draft{
		Pair:       current.Pair(),
		ChangeType: history.ChangeDeleted,
		Actor:      cmd.Actor,
		Before:     history.SnapshotOf(current),
		Metadata:   history.ProvenanceMetadata(entry.ID, history.ChangeCreated),
		Reason:     cmd.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &RollbackResult{
		Success:             true,
		DeletedConnectionID: current.ID,
		HistoryEntry:        recorded,
	}, nil
}

// undoDelete recreates the connection a DELETED entry removed
func (e *RollbackEngine) undoDelete(ctx context.Context, tx ports.Tx, entry *history.Entry, current *entities.Connection, cmd RollbackCommand) (*RollbackResult, error) {
	if current != nil || entry.BeforeState == nil {
		return nil, errors.NewPreconditionError(MsgConnectionAlreadyExists)
	}
	before := entry.BeforeState
	pair, err := before.Pair()
	if err != nil {
		return nil, errors.NewPreconditionError(MsgConnectionAlreadyExists)
	}

	restored, err := tx.Connections().Create(ctx, pair, before.ResolvedType(), before.Metadata)
	if err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewPreconditionError(MsgConnectionAlreadyExists)
		}
		return nil, err
	}
	recorded, err := tx.History().Record(ctx, history.Draft{
		ConnectionID: &restored.ID,
		Pair:         pair,
		ChangeType:   history.ChangeCreated,
		Actor:        cmd.Actor,
		After:        history.SnapshotOf(restored),
		Metadata:     history.ProvenanceMetadata(entry.ID, history.ChangeDeleted),
		Reason:       cmd.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &RollbackResult{
		Success:            true,
		RestoredConnection: restored,
		HistoryEntry:       recorded,
	}, nil
}

// undoModify restores the type and metadata a MODIFIED entry replaced
func (e *RollbackEngine) undoModify(ctx context.Context, tx ports.Tx, entry *history.Entry, current *entities.Connection, cmd RollbackCommand) (*RollbackResult, error) {
	if current == nil || entry.BeforeState == nil {
		return nil, errors.NewPreconditionError(MsgConnectionNotFound)
	}
	if err := e.checkStaleness(entry, current); err != nil {
		return nil, err
	}

	before := entry.BeforeState
	restoredType := before.ResolvedType()
	updated, err := tx.Connections().Update(ctx, current.ID, entities.ConnectionUpdate{
		Type:            &restoredType,
		Metadata:        entities.CloneMetadata(before.Metadata),
		ReplaceMetadata: true,
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewPreconditionError(MsgConnectionNotFound)
		}
		return nil, err
	}
	recorded, err := tx.History().Record(ctx, history.Draft{
		ConnectionID: &updated.ID,
		Pair:         current.Pair(),
		ChangeType:   history.ChangeModified,
		Actor:        cmd.Actor,
		Before:       history.SnapshotOf(current),
		After:        history.SnapshotOf(updated),
		Metadata:     history.ProvenanceMetadata(entry.ID, history.ChangeModified),
		Reason:       cmd.Reason,
	})
	if err != nil {
		return nil, err
	}
	return &RollbackResult{
		Success:            true,
		RestoredConnection: updated,
		HistoryEntry:       recorded,
	}, nil
}

// checkStaleness compares the live connection with the entry's after state.
// Snapshots without a version (legacy data) are not checked.
func (e *RollbackEngine) checkStaleness(entry *history.Entry, current *entities.Connection) error {
	if !e.opts.StrictStaleness {
		return nil
	}
	after := entry.AfterState
	if after == nil || !after.HasVersion() {
		return nil
	}
	if after.ConnectionID != current.ID || after.Version != current.Version {
		return errors.NewPreconditionError(MsgConnectionChanged)
	}
	return nil
}

// fail converts err into a failure result and reports it
func (e *RollbackEngine) fail(cmd RollbackCommand, err error) *RollbackResult {
	result := &RollbackResult{
		Success:   false,
		Error:     errors.Message(err),
		ErrorType: string(errors.ErrorTypeInternal),
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		result.ErrorType = string(appErr.Type)
	}

	fields := []zap.Field{
		zap.String("historyID", cmd.HistoryID),
		zap.String("actorID", cmd.Actor.ID),
		zap.String("errorType", result.ErrorType),
		zap.Error(err),
	}
	switch {
	case errors.IsNotFound(err):
		e.metrics.RollbackCompleted(OutcomeNotFound)
		e.logger.Warn("Rollback rejected", fields...)
	case errors.IsPrecondition(err), errors.IsValidation(err):
		e.metrics.RollbackCompleted(OutcomePrecondition)
		e.logger.Warn("Rollback rejected", fields...)
	case errors.IsInvalidChangeType(err):
		e.metrics.RollbackCompleted(OutcomeInvalidChangeType)
		e.logger.Error("Rollback found unreadable ledger data", fields...)
	default:
		e.metrics.RollbackCompleted(OutcomeError)
		e.logger.Error("Rollback failed", fields...)
	}
	return result
}
