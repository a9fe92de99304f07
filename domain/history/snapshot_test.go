package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
)

func testConnection(t *testing.T) *entities.Connection {
	t.Helper()
	pair, err := valueobjects.NewNodePairFromStrings("node-a", "node-b")
	require.NoError(t, err)
	conn, err := entities.NewConnection(pair, entities.ConnectionTypeDependsOn,
		map[string]interface{}{"weight": 0.5, "tags": []interface{}{"x"}},
		time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return conn
}

func TestSnapshot_EncodeDecodeCurrentSchema(t *testing.T) {
	conn := testConnection(t)

	data, err := EncodeSnapshot(SnapshotOf(conn))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schema_version":2`)

	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, conn.ID, snap.ConnectionID)
	assert.Equal(t, "node-a", snap.NodeA)
	assert.Equal(t, "node-b", snap.NodeB)
	assert.Equal(t, entities.ConnectionTypeDependsOn, snap.Type)
	assert.Equal(t, 1, snap.Version)
	assert.True(t, conn.CreatedAt.Equal(snap.CreatedAt))
	assert.Equal(t, 0.5, snap.Metadata["weight"])
}

func TestSnapshot_DecodeLegacy(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantType entities.ConnectionType
	}{
		{
			name:     "tagged v1",
			payload:  `{"schema_version":1,"id":"c-1","nodeAId":"a","nodeBId":"b","type":"INSPIRES","metadata":{"k":"v"}}`,
			wantType: entities.ConnectionTypeInspires,
		},
		{
			name:     "untagged legacy payload",
			payload:  `{"id":"c-1","nodeAId":"a","nodeBId":"b","metadata":{"k":"v"}}`,
			wantType: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := DecodeSnapshot([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, CurrentSchemaVersion, snap.SchemaVersion)
			assert.Equal(t, "c-1", snap.ConnectionID)
			assert.Equal(t, "a", snap.NodeA)
			assert.Equal(t, "b", snap.NodeB)
			assert.Equal(t, tt.wantType, snap.Type)
			assert.Equal(t, "v", snap.Metadata["k"])
			assert.False(t, snap.HasVersion())
		})
	}

	t.Run("missing type resolves to RELATED_TO", func(t *testing.T) {
		snap, err := DecodeSnapshot([]byte(`{"nodeAId":"a","nodeBId":"b"}`))
		require.NoError(t, err)
		assert.Equal(t, entities.ConnectionTypeRelatedTo, snap.ResolvedType())
	})
}

func TestSnapshot_DecodeRejectsUnknownSchema(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"schema_version":9,"nodeA":"a","nodeB":"b"}`))
	assert.Error(t, err)
}

func TestSnapshot_NilRoundTrip(t *testing.T) {
	data, err := EncodeSnapshot(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	snap, err := DecodeSnapshot([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestEntry_JSONKeepsSnapshotsTyped(t *testing.T) {
	conn := testConnection(t)
	entry, err := Draft{
		ConnectionID: &conn.ID,
		Pair:         conn.Pair(),
		ChangeType:   ChangeCreated,
		Actor:        valueobjects.Actor{ID: "u1", DisplayName: "Ada"},
		After:        SnapshotOf(conn),
	}.Seal("h-1", conn.CreatedAt)
	require.NoError(t, err)

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.BeforeState)
	require.NotNil(t, back.AfterState)
	assert.Equal(t, conn.Version, back.AfterState.Version)
}
