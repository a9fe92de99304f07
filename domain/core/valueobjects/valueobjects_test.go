package valueobjects

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodePair(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		wantErr bool
	}{
		{"valid", "node-a", "node-b", false},
		{"empty a", "", "node-b", true},
		{"empty b", "node-a", "  ", true},
		{"self pair", "node-a", "node-a", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := NewNodePairFromStrings(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.a, pair.A().String())
			assert.Equal(t, tt.b, pair.B().String())
		})
	}
}

func TestNodePair_KeyIsOrderIndependent(t *testing.T) {
	ab, err := NewNodePairFromStrings("alpha", "beta")
	require.NoError(t, err)
	ba, err := NewNodePairFromStrings("beta", "alpha")
	require.NoError(t, err)

	assert.Equal(t, ab.Key(), ba.Key())
	assert.Equal(t, "alpha|beta", ab.Key())
	assert.True(t, ab.Equals(ba))
	assert.True(t, ab.Matches(MustNodeID("beta"), MustNodeID("alpha")))
	assert.False(t, ab.Matches(MustNodeID("alpha"), MustNodeID("gamma")))
}

func TestPairKey_EscapesSeparator(t *testing.T) {
	assert.NotEqual(t, PairKey("a|b", "c"), PairKey("a", "b|c"))
	assert.NotEqual(t, PairKey(`a\`, "b"), PairKey("a", `\b`))
	assert.Equal(t, `a\|b|c`, PairKey("c", "a|b"))
	assert.Equal(t, `a\\|b`, PairKey(`a\`, "b"))
}

func TestNodeID_JSON(t *testing.T) {
	data, err := json.Marshal(MustNodeID(`with"quote`))
	require.NoError(t, err)

	var back NodeID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, `with"quote`, back.String())
}

func TestNewActor(t *testing.T) {
	_, err := NewActor("", "Nobody")
	assert.Error(t, err)

	actor, err := NewActor("user-1", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "user-1", actor.ID)
	assert.Equal(t, "Ada", actor.DisplayName)
}
