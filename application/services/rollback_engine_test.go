package services

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/events"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
)

func TestRollback_CreatedWithoutConnectionIsPrecondition(t *testing.T) {
	// Arrange
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	_, err := f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.alice})
	require.NoError(t, err)
	before := f.entryCount(t)

	// Act
	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

	// Assert
	assert.True(t, errors.IsPrecondition(err))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, MsgConnectionNoLongerExists, result.Error)
	assert.Equal(t, string(errors.ErrorTypePrecondition), result.ErrorType)
	assert.Equal(t, before, f.entryCount(t), "no entry may be appended")
	_, err = f.store.Connections().FindByPair(f.ctx, f.pair(t, "A", "B"))
	assert.True(t, errors.IsNotFound(err), "no connection may be created")
	assert.Equal(t, 1, f.metrics.outcome(OutcomePrecondition))
}

func TestRollback_CreateDeleteRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	meta := map[string]interface{}{"note": "first", "weight": 0.7}
	e1 := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, meta)

	// rollback(E1) deletes the connection
	r2, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: e1.Entry.ID, Actor: f.bob, Reason: "mistake"})
	require.NoError(t, err)
	require.True(t, r2.Success)
	assert.Equal(t, e1.Connection.ID, r2.DeletedConnectionID)

	e2 := r2.HistoryEntry
	assert.Equal(t, history.ChangeDeleted, e2.ChangeType)
	assert.Nil(t, e2.ConnectionID)
	assert.Nil(t, e2.AfterState)
	require.NotNil(t, e2.BeforeState)
	assert.Equal(t, e1.Connection.ID, e2.BeforeState.ConnectionID)
	assert.Equal(t, "mistake", e2.Reason)
	assert.Equal(t, "bob", e2.ActorID)
	from, ok := e2.RolledBackFrom()
	require.True(t, ok)
	assert.Equal(t, e1.Entry.ID, from)
	orig, _ := e2.OriginalChangeType()
	assert.Equal(t, history.ChangeCreated, orig)

	_, err = f.store.Connections().FindByPair(f.ctx, f.pair(t, "A", "B"))
	assert.True(t, errors.IsNotFound(err))

	// rollback(E2) recreates it with the same pair, type and metadata
	r3, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: e2.ID, Actor: f.bob})
	require.NoError(t, err)
	require.True(t, r3.Success)
	restored := r3.RestoredConnection
	require.NotNil(t, restored)
	assert.True(t, restored.Pair().Equals(e1.Connection.Pair()))
	assert.Equal(t, entities.ConnectionTypeRelatedTo, restored.Type)
	assert.Equal(t, meta, restored.Metadata)

	e3 := r3.HistoryEntry
	assert.Equal(t, history.ChangeCreated, e3.ChangeType)
	assert.Nil(t, e3.BeforeState)
	require.NotNil(t, e3.ConnectionID)
	assert.Equal(t, restored.ID, *e3.ConnectionID)
	orig, _ = e3.OriginalChangeType()
	assert.Equal(t, history.ChangeDeleted, orig)

	// the original entry is untouched
	original, err := f.store.History().GetByID(f.ctx, e1.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, e1.Entry, original)
}

func TestRollback_ModifiedRestoresPriorType(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, map[string]interface{}{"k": "v1"})
	dep := entities.ConnectionTypeDependsOn
	e4, err := f.conns.Update(f.ctx, UpdateConnectionCommand{
		ConnectionID: created.Connection.ID,
		Type:         &dep,
		Metadata:     map[string]interface{}{"k": "v2"},
		Actor:        f.alice,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, e4.Entry.BeforeState.Type)
	assert.Equal(t, entities.ConnectionTypeDependsOn, e4.Entry.AfterState.Type)

	r5, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: e4.Entry.ID, Actor: f.bob})

	require.NoError(t, err)
	require.True(t, r5.Success)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, r5.RestoredConnection.Type)
	assert.Equal(t, map[string]interface{}{"k": "v1"}, r5.RestoredConnection.Metadata)
	assert.Equal(t, 3, r5.RestoredConnection.Version)

	e5 := r5.HistoryEntry
	assert.Equal(t, history.ChangeModified, e5.ChangeType)
	assert.Equal(t, entities.ConnectionTypeDependsOn, e5.BeforeState.Type)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, e5.AfterState.Type)

	live, err := f.store.Connections().FindByPair(f.ctx, f.pair(t, "B", "A"))
	require.NoError(t, err)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, live.Type)
}

func TestRollback_NonexistentEntry(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	before := f.entryCount(t)

	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: "nonexistent-id", Actor: f.bob})

	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, &RollbackResult{Success: false, Error: "History entry not found", ErrorType: string(errors.ErrorTypeNotFound)}, result)
	assert.Equal(t, before, f.entryCount(t))
}

func TestRollback_DeletedWhenPairRecreatedIndependently(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeInspires, nil)
	e6, err := f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.alice})
	require.NoError(t, err)
	independent := f.create(t, "B", "A", entities.ConnectionTypeConflictsWith, map[string]interface{}{"own": true})
	before := f.entryCount(t)

	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: e6.Entry.ID, Actor: f.bob})

	assert.True(t, errors.IsPrecondition(err))
	assert.False(t, result.Success)
	assert.Equal(t, "Connection already exists or invalid previous state", result.Error)
	assert.Equal(t, before, f.entryCount(t))

	live, err := f.store.Connections().FindByPair(f.ctx, f.pair(t, "A", "B"))
	require.NoError(t, err)
	assert.Equal(t, independent.Connection, live)
}

func TestRollback_ModifiedWithoutConnection(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	dep := entities.ConnectionTypeDependsOn
	modified, err := f.conns.Update(f.ctx, UpdateConnectionCommand{ConnectionID: created.Connection.ID, Type: &dep, Actor: f.alice})
	require.NoError(t, err)
	_, err = f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.alice})
	require.NoError(t, err)

	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: modified.Entry.ID, Actor: f.bob})

	assert.True(t, errors.IsPrecondition(err))
	assert.Equal(t, MsgConnectionNotFound, result.Error)
}

func TestRollback_StalenessCheck(t *testing.T) {
	setup := func(t *testing.T, opts RollbackOptions) (*fixture, *MutationResult) {
		f := newFixture(t, opts)
		created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
		_, err := f.conns.Update(f.ctx, UpdateConnectionCommand{
			ConnectionID: created.Connection.ID,
			Metadata:     map[string]interface{}{"edited": "later"},
			Actor:        f.alice,
		})
		require.NoError(t, err)
		return f, created
	}

	t.Run("strict refuses a stale CREATED rollback", func(t *testing.T) {
		f, created := setup(t, DefaultRollbackOptions())
		before := f.entryCount(t)

		result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

		assert.True(t, errors.IsPrecondition(err))
		assert.Equal(t, MsgConnectionChanged, result.Error)
		assert.Equal(t, before, f.entryCount(t))
		_, err = f.store.Connections().FindByPair(f.ctx, f.pair(t, "A", "B"))
		assert.NoError(t, err, "connection must survive")
	})

	t.Run("strict refuses a stale MODIFIED rollback", func(t *testing.T) {
		f, created := setup(t, DefaultRollbackOptions())
		page, err := f.history.ByPair(f.ctx, "A", "B", history.Page{Limit: 1})
		require.NoError(t, err)
		firstEdit := page.Entries[0]
		_, err = f.conns.Update(f.ctx, UpdateConnectionCommand{
			ConnectionID: created.Connection.ID,
			Metadata:     map[string]interface{}{"edited": "again"},
			Actor:        f.alice,
		})
		require.NoError(t, err)

		result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: firstEdit.ID, Actor: f.bob})

		assert.True(t, errors.IsPrecondition(err))
		assert.Equal(t, MsgConnectionChanged, result.Error)
	})

	t.Run("relaxed mode inverts anyway", func(t *testing.T) {
		f, created := setup(t, RollbackOptions{StrictStaleness: false})

		result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, created.Connection.ID, result.DeletedConnectionID)
	})

	t.Run("recreated connection with a new id is stale", func(t *testing.T) {
		f := newFixture(t, DefaultRollbackOptions())
		created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
		_, err := f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.alice})
		require.NoError(t, err)
		f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)

		result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

		assert.True(t, errors.IsPrecondition(err))
		assert.Equal(t, MsgConnectionChanged, result.Error)
	})
}

func TestRollback_LegacySnapshotDefaultsType(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	pair := f.pair(t, "A", "B")
	legacy, err := history.DecodeSnapshot([]byte(`{"id":"old-conn","nodeAId":"A","nodeBId":"B","metadata":{"from":"v1"}}`))
	require.NoError(t, err)
	entry, err := f.store.History().Record(f.ctx, history.Draft{
		Pair:       pair,
		ChangeType: history.ChangeDeleted,
		Actor:      f.alice,
		Before:     legacy,
	})
	require.NoError(t, err)

	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: entry.ID, Actor: f.bob})

	require.NoError(t, err)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, result.RestoredConnection.Type)
	assert.Equal(t, "v1", result.RestoredConnection.Metadata["from"])
}

func TestRollback_UnknownChangeType(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	store := &hookedStore{Store: f.store, onGetEntry: func(e *history.Entry) *history.Entry {
		e.ChangeType = "RENAMED"
		return e
	}}
	engine := NewRollbackEngine(store, nil, f.metrics, zap.NewNop(), DefaultRollbackOptions())

	result, err := engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

	assert.True(t, errors.IsInvalidChangeType(err))
	assert.Equal(t, MsgUnknownChangeType, result.Error)
	assert.Equal(t, string(errors.ErrorTypeInvalidChangeType), result.ErrorType)
	assert.Equal(t, 1, f.metrics.outcome(OutcomeInvalidChangeType))
}

func TestRollback_PanicBecomesFailureResult(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	store := &hookedStore{Store: f.store, onFindByPair: func() { panic("storage driver exploded") }}
	engine := NewRollbackEngine(store, nil, f.metrics, zap.NewNop(), DefaultRollbackOptions())
	before := f.entryCount(t)

	var result *RollbackResult
	var err error
	assert.NotPanics(t, func() {
		result, err = engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})
	})

	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "storage driver exploded")
	assert.Equal(t, before, f.entryCount(t))
}

func TestRollback_RequiresActor(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())

	result, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: "x"})

	assert.True(t, errors.IsValidation(err))
	assert.False(t, result.Success)
}

func TestRollback_ConcurrentRollbacksOfSameEntry(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)

	const attempts = 6
	var wg sync.WaitGroup
	results := make(chan *RollbackResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for res := range results {
		if res.Success {
			successes++
			continue
		}
		assert.Equal(t, MsgConnectionNoLongerExists, res.Error)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 2, f.entryCount(t), "one CREATED plus exactly one rollback entry")
}

func TestRollback_RollbackOfRollbackChain(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	e1 := f.create(t, "A", "B", entities.ConnectionTypeInspires, nil)

	r2, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: e1.Entry.ID, Actor: f.bob})
	require.NoError(t, err)
	r3, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: r2.HistoryEntry.ID, Actor: f.bob})
	require.NoError(t, err)
	r4, err := f.engine.Rollback(f.ctx, RollbackCommand{HistoryID: r3.HistoryEntry.ID, Actor: f.bob})
	require.NoError(t, err)

	chain, err := f.history.Lineage(f.ctx, r4.HistoryEntry.ID)
	require.NoError(t, err)
	require.Len(t, chain, 4)
	assert.Equal(t, []string{r4.HistoryEntry.ID, r3.HistoryEntry.ID, r2.HistoryEntry.ID, e1.Entry.ID},
		[]string{chain[0].ID, chain[1].ID, chain[2].ID, chain[3].ID})
}

func TestRollback_PublishesAfterCommit(t *testing.T) {
	// Arrange
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)
	publisher := new(MockEventPublisher)
	publisher.On("PublishBatch", mock.Anything, mock.MatchedBy(func(evts []events.DomainEvent) bool {
		return len(evts) == 2 &&
			evts[0].GetEventType() == events.TypeConnectionDeleted &&
			evts[1].GetEventType() == events.TypeConnectionRolledBack
	})).Return(stderrors.New("bus unavailable"))
	engine := NewRollbackEngine(f.store, publisher, f.metrics, zap.NewNop(), DefaultRollbackOptions())

	// Act
	result, err := engine.Rollback(context.Background(), RollbackCommand{HistoryID: created.Entry.ID, Actor: f.bob})

	// Assert
	require.NoError(t, err, "publish failures must not fail the rollback")
	assert.True(t, result.Success)
	publisher.AssertExpectations(t)
}

func TestRollback_FailureDoesNotPublish(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	publisher := new(MockEventPublisher)
	engine := NewRollbackEngine(f.store, publisher, f.metrics, zap.NewNop(), DefaultRollbackOptions())

	_, err := engine.Rollback(f.ctx, RollbackCommand{HistoryID: "missing", Actor: f.bob})

	assert.Error(t, err)
	publisher.AssertNotCalled(t, "PublishBatch", mock.Anything, mock.Anything)
}
