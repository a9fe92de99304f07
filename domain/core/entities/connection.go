package entities

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"brain2-connections/domain/core/valueobjects"
)

// ConnectionType classifies the relationship between two nodes
type ConnectionType string

const (
	ConnectionTypeDependsOn     ConnectionType = "DEPENDS_ON"
	ConnectionTypeRelatedTo     ConnectionType = "RELATED_TO"
	ConnectionTypeInspires      ConnectionType = "INSPIRES"
	ConnectionTypeConflictsWith ConnectionType = "CONFLICTS_WITH"

	// DefaultConnectionType is used when a stored snapshot has no type
	DefaultConnectionType = ConnectionTypeRelatedTo
)

// IsValid reports whether t is one of the known connection types
func (t ConnectionType) IsValid() bool {
	switch t {
	case ConnectionTypeDependsOn, ConnectionTypeRelatedTo, ConnectionTypeInspires, ConnectionTypeConflictsWith:
		return true
	}
	return false
}

// OrDefault returns t, or RELATED_TO when t is empty
func (t ConnectionType) OrDefault() ConnectionType {
	if t == "" {
		return DefaultConnectionType
	}
	return t
}

// ParseConnectionType accepts any casing; empty input yields the default type
func ParseConnectionType(s string) (ConnectionType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultConnectionType, nil
	}
	t := ConnectionType(strings.ToUpper(s))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown connection type %q", s)
	}
	return t, nil
}

// Connection is the present-state edge between two nodes.
// NodeA/NodeB keep the order given at creation; lookups must treat the pair as unordered.
type Connection struct {
	ID        string                 `json:"id"`
	NodeA     valueobjects.NodeID    `json:"nodeA"`
	NodeB     valueobjects.NodeID    `json:"nodeB"`
	Type      ConnectionType         `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	// Version starts at 1 and increases by one on every update
	Version int `json:"version"`
}

// NewConnection creates a new connection with a fresh time-ordered id
func NewConnection(pair valueobjects.NodePair, connType ConnectionType, metadata map[string]interface{}, now time.Time) (*Connection, error) {
	if pair.IsZero() {
		return nil, fmt.Errorf("connection requires a node pair")
	}
	connType = connType.OrDefault()
	if !connType.IsValid() {
		return nil, fmt.Errorf("unknown connection type %q", connType)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}
	now = now.UTC()
	return &Connection{
		ID:        id.String(),
		NodeA:     pair.A(),
		NodeB:     pair.B(),
		Type:      connType,
		Metadata:  CloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

// Pair returns the connection's node pair
func (c *Connection) Pair() valueobjects.NodePair {
	return valueobjects.NodePairOf(c.NodeA, c.NodeB)
}

// PairKey returns the canonical pair key
func (c *Connection) PairKey() string {
	return valueobjects.PairKey(c.NodeA.String(), c.NodeB.String())
}

// Clone returns a deep copy so callers cannot alias stored state
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = CloneMetadata(c.Metadata)
	return &cp
}

// ConnectionUpdate describes the fields an update may change.
// A nil Type leaves the type unchanged. Metadata is merged key by key
// unless ReplaceMetadata is set, in which case it replaces the whole map.
type ConnectionUpdate struct {
	Type            *ConnectionType
	Metadata        map[string]interface{}
	ReplaceMetadata bool
}

// IsEmpty reports whether the update names no field at all
func (u ConnectionUpdate) IsEmpty() bool {
	return u.Type == nil && u.Metadata == nil && !u.ReplaceMetadata
}

// Apply returns the connection as it would look after the update.
// The receiver is not modified; Version and UpdatedAt advance.
func (c *Connection) Apply(u ConnectionUpdate, now time.Time) (*Connection, error) {
	next := c.Clone()
	if u.Type != nil {
		t := u.Type.OrDefault()
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown connection type %q", *u.Type)
		}
		next.Type = t
	}
	switch {
	case u.ReplaceMetadata:
		next.Metadata = CloneMetadata(u.Metadata)
	case u.Metadata != nil:
		if next.Metadata == nil {
			next.Metadata = make(map[string]interface{}, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			next.Metadata[k] = v
		}
	}
	next.Version = c.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

// SameContent reports whether two connections carry the same type and metadata
func (c *Connection) SameContent(other *Connection) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.Type != other.Type {
		return false
	}
	if len(c.Metadata) == 0 && len(other.Metadata) == 0 {
		return true
	}
	return reflect.DeepEqual(c.Metadata, other.Metadata)
}

// CloneMetadata deep-copies nested maps and slices of a JSON-shaped payload
func CloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMetadata(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
