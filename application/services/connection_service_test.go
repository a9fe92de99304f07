package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
)

func TestConnectionService_CreateRecordsEntry(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())

	res, err := f.conns.Create(f.ctx, CreateConnectionCommand{
		NodeA: "A", NodeB: "B", Type: entities.ConnectionTypeDependsOn, Actor: f.alice, Reason: "linked",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Connection.Version)
	assert.Equal(t, history.ChangeCreated, res.Entry.ChangeType)
	assert.Equal(t, res.Connection.ID, *res.Entry.ConnectionID)
	assert.Equal(t, "linked", res.Entry.Reason)
	assert.Equal(t, "Alice", res.Entry.ActorDisplayName)
	assert.Equal(t, 1, f.entryCount(t))
	assert.Equal(t, 1, f.metrics.appends[history.ChangeCreated])
}

func TestConnectionService_CreateValidation(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())

	tests := []struct {
		name string
		cmd  CreateConnectionCommand
	}{
		{"missing node", CreateConnectionCommand{NodeA: "A", Actor: f.alice}},
		{"self loop", CreateConnectionCommand{NodeA: "A", NodeB: "A", Actor: f.alice}},
		{"no actor", CreateConnectionCommand{NodeA: "A", NodeB: "B"}},
		{"bad type", CreateConnectionCommand{NodeA: "A", NodeB: "B", Type: "LOVES", Actor: f.alice}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.conns.Create(f.ctx, tt.cmd)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.entryCount(t))
}

func TestConnectionService_CreateConflictLeavesNoEntry(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, nil)

	_, err := f.conns.Create(f.ctx, CreateConnectionCommand{NodeA: "B", NodeB: "A", Actor: f.alice})

	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, 1, f.entryCount(t))
}

func TestConnectionService_UpdateRecordsBeforeAndAfter(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, map[string]interface{}{"a": 1})
	inspires := entities.ConnectionTypeInspires

	res, err := f.conns.Update(f.ctx, UpdateConnectionCommand{
		ConnectionID: created.Connection.ID, Type: &inspires, Actor: f.bob,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Connection.Version)
	assert.Equal(t, history.ChangeModified, res.Entry.ChangeType)
	assert.Equal(t, 1, res.Entry.BeforeState.Version)
	assert.Equal(t, 2, res.Entry.AfterState.Version)
	assert.Equal(t, entities.ConnectionTypeRelatedTo, res.Entry.BeforeState.Type)
	assert.Equal(t, entities.ConnectionTypeInspires, res.Entry.AfterState.Type)
}

func TestConnectionService_UpdateRejectsNoOps(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeRelatedTo, map[string]interface{}{"a": "x"})
	same := entities.ConnectionTypeRelatedTo

	_, err := f.conns.Update(f.ctx, UpdateConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.bob})
	assert.True(t, errors.IsValidation(err))

	_, err = f.conns.Update(f.ctx, UpdateConnectionCommand{
		ConnectionID: created.Connection.ID, Type: &same, Metadata: map[string]interface{}{"a": "x"}, Actor: f.bob,
	})
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 1, f.entryCount(t))

	live, err := f.store.Connections().GetByID(f.ctx, created.Connection.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, live.Version)
}

func TestConnectionService_UpdateAndDeleteNotFound(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	dep := entities.ConnectionTypeDependsOn

	_, err := f.conns.Update(f.ctx, UpdateConnectionCommand{ConnectionID: "missing", Type: &dep, Actor: f.bob})
	assert.True(t, errors.IsNotFound(err))

	_, err = f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: "missing", Actor: f.bob})
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 0, f.entryCount(t))
}

func TestConnectionService_DeleteRecordsSnapshot(t *testing.T) {
	f := newFixture(t, DefaultRollbackOptions())
	created := f.create(t, "A", "B", entities.ConnectionTypeConflictsWith, map[string]interface{}{"why": "disagree"})

	res, err := f.conns.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: created.Connection.ID, Actor: f.bob, Reason: "cleanup"})

	require.NoError(t, err)
	assert.Nil(t, res.Connection)
	assert.Nil(t, res.Entry.ConnectionID)
	assert.Nil(t, res.Entry.AfterState)
	assert.Equal(t, created.Connection.ID, res.Entry.BeforeState.ConnectionID)
	assert.Equal(t, "disagree", res.Entry.BeforeState.Metadata["why"])

	_, err = f.conns.FindByPair(f.ctx, "B", "A")
	assert.True(t, errors.IsNotFound(err))
}

func TestConnectionService_PublishesOneEventPerEntry(t *testing.T) {
	// Arrange
	f := newFixture(t, DefaultRollbackOptions())
	publisher := new(MockEventPublisher)
	publisher.On("PublishBatch", mock.Anything, mock.AnythingOfType("[]events.DomainEvent")).Return(nil).Times(2)
	svc := NewConnectionService(f.store, publisher, nil, zap.NewNop())

	// Act
	res, err := svc.Create(f.ctx, CreateConnectionCommand{NodeA: "A", NodeB: "B", Actor: f.alice})
	require.NoError(t, err)
	_, err = svc.Delete(f.ctx, DeleteConnectionCommand{ConnectionID: res.Connection.ID, Actor: f.alice})
	require.NoError(t, err)

	// Assert
	publisher.AssertExpectations(t)
	publisher.AssertNumberOfCalls(t, "PublishBatch", 2)
}
