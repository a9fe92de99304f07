package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brain2-connections/domain/core/valueobjects"
)

func newPair(t *testing.T) valueobjects.NodePair {
	t.Helper()
	pair, err := valueobjects.NewNodePairFromStrings("node-a", "node-b")
	require.NoError(t, err)
	return pair
}

func TestParseConnectionType(t *testing.T) {
	tests := []struct {
		in      string
		want    ConnectionType
		wantErr bool
	}{
		{"DEPENDS_ON", ConnectionTypeDependsOn, false},
		{"inspires", ConnectionTypeInspires, false},
		{"", ConnectionTypeRelatedTo, false},
		{"LIKES", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConnectionType(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewConnection(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	conn, err := NewConnection(newPair(t), "", map[string]interface{}{"note": "hi"}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, ConnectionTypeRelatedTo, conn.Type)
	assert.Equal(t, 1, conn.Version)
	assert.Equal(t, now, conn.CreatedAt)
	assert.Equal(t, now, conn.UpdatedAt)
	assert.Equal(t, "node-a|node-b", conn.PairKey())
}

func TestConnection_Apply(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	conn, err := NewConnection(newPair(t), ConnectionTypeRelatedTo, map[string]interface{}{"a": 1}, now)
	require.NoError(t, err)

	t.Run("merge metadata and change type", func(t *testing.T) {
		dep := ConnectionTypeDependsOn
		next, err := conn.Apply(ConnectionUpdate{Type: &dep, Metadata: map[string]interface{}{"b": 2}}, now.Add(time.Minute))
		require.NoError(t, err)

		assert.Equal(t, ConnectionTypeDependsOn, next.Type)
		assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, next.Metadata)
		assert.Equal(t, 2, next.Version)
		assert.Equal(t, ConnectionTypeRelatedTo, conn.Type, "receiver must not change")
		assert.Len(t, conn.Metadata, 1)
	})

	t.Run("replace metadata", func(t *testing.T) {
		next, err := conn.Apply(ConnectionUpdate{Metadata: map[string]interface{}{"z": true}, ReplaceMetadata: true}, now)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"z": true}, next.Metadata)
	})

	t.Run("invalid type", func(t *testing.T) {
		bad := ConnectionType("NOPE")
		_, err := conn.Apply(ConnectionUpdate{Type: &bad}, now)
		assert.Error(t, err)
	})
}

func TestConnection_CloneIsDeep(t *testing.T) {
	conn := &Connection{Metadata: map[string]interface{}{"nested": map[string]interface{}{"k": "v"}}}

	cp := conn.Clone()
	cp.Metadata["nested"].(map[string]interface{})["k"] = "changed"

	assert.Equal(t, "v", conn.Metadata["nested"].(map[string]interface{})["k"])
}

func TestConnection_SameContent(t *testing.T) {
	a := &Connection{Type: ConnectionTypeInspires}
	b := &Connection{Type: ConnectionTypeInspires, Metadata: map[string]interface{}{}}
	c := &Connection{Type: ConnectionTypeInspires, Metadata: map[string]interface{}{"x": 1}}

	assert.True(t, a.SameContent(b))
	assert.False(t, a.SameContent(c))
}
