package history

import (
	"encoding/json"
	"fmt"
	"time"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
)

// Snapshot schema versions. Version 1 is the untyped payload written before
// snapshots were tagged; it is upgraded on read and never written.
const (
	SchemaV1 = 1
	SchemaV2 = 2

	CurrentSchemaVersion = SchemaV2
)

// Snapshot is the captured state of a connection at one point in time
type Snapshot struct {
	SchemaVersion int
	ConnectionID  string
	NodeA         string
	NodeB         string
	// Type may be empty for upgraded legacy snapshots
	Type     entities.ConnectionType
	Metadata map[string]interface{}
	// Version is zero when the source payload predates versioning
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotOf captures conn
func SnapshotOf(conn *entities.Connection) *Snapshot {
	if conn == nil {
		return nil
	}
	return &Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		ConnectionID:  conn.ID,
		NodeA:         conn.NodeA.String(),
		NodeB:         conn.NodeB.String(),
		Type:          conn.Type,
		Metadata:      entities.CloneMetadata(conn.Metadata),
		Version:       conn.Version,
		CreatedAt:     conn.CreatedAt,
		UpdatedAt:     conn.UpdatedAt,
	}
}

// Pair returns the snapshot's node pair
func (s *Snapshot) Pair() (valueobjects.NodePair, error) {
	return valueobjects.NewNodePairFromStrings(s.NodeA, s.NodeB)
}

// ResolvedType is the snapshot type, defaulting to RELATED_TO when missing
func (s *Snapshot) ResolvedType() entities.ConnectionType {
	return s.Type.OrDefault()
}

// HasVersion reports whether the snapshot can take part in a staleness check
func (s *Snapshot) HasVersion() bool {
	return s.Version > 0
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Metadata = entities.CloneMetadata(s.Metadata)
	return &cp
}

// snapshotV2 is the current wire shape
type snapshotV2 struct {
	SchemaVersion int                    `json:"schema_version"`
	ConnectionID  string                 `json:"connectionId,omitempty"`
	NodeA         string                 `json:"nodeA"`
	NodeB         string                 `json:"nodeB"`
	Type          string                 `json:"type,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version,omitempty"`
	CreatedAt     *time.Time             `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time             `json:"updatedAt,omitempty"`
}

// snapshotV1 is the legacy free-form payload
type snapshotV1 struct {
	ID       string                 `json:"id"`
	NodeAID  string                 `json:"nodeAId"`
	NodeBID  string                 `json:"nodeBId"`
	Type     string                 `json:"type"`
	Metadata map[string]interface{} `json:"metadata"`
}

type schemaProbe struct {
	SchemaVersion *int `json:"schema_version"`
}

// MarshalJSON always writes the current schema
func (s Snapshot) MarshalJSON() ([]byte, error) {
	wire := snapshotV2{
		SchemaVersion: CurrentSchemaVersion,
		ConnectionID:  s.ConnectionID,
		NodeA:         s.NodeA,
		NodeB:         s.NodeB,
		Type:          string(s.Type),
		Metadata:      s.Metadata,
		Version:       s.Version,
	}
	if !s.CreatedAt.IsZero() {
		t := s.CreatedAt.UTC()
		wire.CreatedAt = &t
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt.UTC()
		wire.UpdatedAt = &t
	}
	return json.Marshal(wire)
}

// UnmarshalJSON dispatches on schema_version. Payloads without the tag are
// legacy version 1 payloads.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var probe schemaProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	version := SchemaV1
	if probe.SchemaVersion != nil {
		version = *probe.SchemaVersion
	}

	switch version {
	case SchemaV1:
		var v1 snapshotV1
		if err := json.Unmarshal(data, &v1); err != nil {
			return fmt.Errorf("decode v1 snapshot: %w", err)
		}
		*s = Snapshot{
			// upgraded in memory; re-encoding writes v2
			SchemaVersion: CurrentSchemaVersion,
			ConnectionID:  v1.ID,
			NodeA:         v1.NodeAID,
			NodeB:         v1.NodeBID,
			Type:          entities.ConnectionType(v1.Type),
			Metadata:      v1.Metadata,
		}
	case SchemaV2:
		var v2 snapshotV2
		if err := json.Unmarshal(data, &v2); err != nil {
			return fmt.Errorf("decode v2 snapshot: %w", err)
		}
		*s = Snapshot{
			SchemaVersion: SchemaV2,
			ConnectionID:  v2.ConnectionID,
			NodeA:         v2.NodeA,
			NodeB:         v2.NodeB,
			Type:          entities.ConnectionType(v2.Type),
			Metadata:      v2.Metadata,
			Version:       v2.Version,
		}
		if v2.CreatedAt != nil {
			s.CreatedAt = v2.CreatedAt.UTC()
		}
		if v2.UpdatedAt != nil {
			s.UpdatedAt = v2.UpdatedAt.UTC()
		}
	default:
		return fmt.Errorf("unsupported snapshot schema_version %d", version)
	}
	return nil
}

// EncodeSnapshot serializes s for storage. A nil snapshot encodes to nil.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses stored bytes. Empty input and JSON null decode to nil.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
