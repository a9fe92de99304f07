package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
)

// Provenance metadata keys written on entries produced by a rollback
const (
	MetaRolledBackFromHistory = "rolledBackFromHistory"
	MetaOriginalChangeType    = "originalChangeType"
)

// Entry is one immutable audit record of a single connection mutation
type Entry struct {
	ID string `json:"id"`
	// ConnectionID is nil when the entry records a deletion
	ConnectionID     *string                `json:"connectionId"`
	NodeA            string                 `json:"nodeA"`
	NodeB            string                 `json:"nodeB"`
	ChangeType       ChangeType             `json:"changeType"`
	ActorID          string                 `json:"actorId"`
	ActorDisplayName string                 `json:"actorDisplayName"`
	BeforeState      *Snapshot              `json:"beforeState"`
	AfterState       *Snapshot              `json:"afterState"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// Draft carries the caller-supplied fields of an entry. The ledger assigns
// the id and timestamp when it records the draft.
type Draft struct {
	ConnectionID *string
	Pair         valueobjects.NodePair
	ChangeType   ChangeType
	Actor        valueobjects.Actor
	Before       *Snapshot
	After        *Snapshot
	Metadata     map[string]interface{}
	Reason       string
}

// NewEntryID returns a time-ordered id for a new entry
func NewEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate history id: %w", err)
	}
	return id.String(), nil
}

// Seal turns the draft into a validated entry with the given id and time
func (d Draft) Seal(id string, now time.Time) (*Entry, error) {
	e := &Entry{
		ID:               id,
		NodeA:            d.Pair.A().String(),
		NodeB:            d.Pair.B().String(),
		ChangeType:       d.ChangeType,
		ActorID:          d.Actor.ID,
		ActorDisplayName: d.Actor.DisplayName,
		BeforeState:      d.Before.Clone(),
		AfterState:       d.After.Clone(),
		Metadata:         entities.CloneMetadata(d.Metadata),
		Reason:           d.Reason,
		CreatedAt:        now.UTC(),
	}
	if d.ConnectionID != nil {
		cid := *d.ConnectionID
		e.ConnectionID = &cid
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate enforces the shape rules every stored entry satisfies
func (e *Entry) Validate() error {
	if e.ID == "" {
		return errors.New("history entry requires an id")
	}
	if e.NodeA == "" || e.NodeB == "" {
		return errors.New("history entry requires both node ids")
	}
	if e.ActorID == "" {
		return errors.New("history entry requires an actor")
	}
	switch e.ChangeType {
	case ChangeCreated:
		if e.BeforeState != nil || e.AfterState == nil {
			return errors.New("CREATED entry must have only an after state")
		}
	case ChangeDeleted:
		if e.BeforeState == nil || e.AfterState != nil {
			return errors.New("DELETED entry must have only a before state")
		}
		if e.ConnectionID != nil {
			return errors.New("DELETED entry must not reference a live connection")
		}
	case ChangeModified:
		if e.BeforeState == nil || e.AfterState == nil {
			return errors.New("MODIFIED entry must have before and after states")
		}
	default:
		return fmt.Errorf("unknown change type %q", e.ChangeType)
	}
	return nil
}

// PairKey returns the canonical pair key
func (e *Entry) PairKey() string {
	return valueobjects.PairKey(e.NodeA, e.NodeB)
}

// Touches reports whether the entry involves any node in the set
func (e *Entry) Touches(nodes map[string]struct{}) bool {
	_, a := nodes[e.NodeA]
	_, b := nodes[e.NodeB]
	return a || b
}

// RolledBackFrom returns the id of the entry this one inverted, if any
func (e *Entry) RolledBackFrom() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	id, ok := e.Metadata[MetaRolledBackFromHistory].(string)
	return id, ok && id != ""
}

// OriginalChangeType returns the change type of the inverted entry, if any
func (e *Entry) OriginalChangeType() (ChangeType, bool) {
	if e.Metadata == nil {
		return "", false
	}
	s, ok := e.Metadata[MetaOriginalChangeType].(string)
	return ChangeType(s), ok && s != ""
}

// Clone returns a deep copy
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.ConnectionID != nil {
		cid := *e.ConnectionID
		cp.ConnectionID = &cid
	}
	cp.BeforeState = e.BeforeState.Clone()
	cp.AfterState = e.AfterState.Clone()
	cp.Metadata = entities.CloneMetadata(e.Metadata)
	return &cp
}

// ProvenanceMetadata builds the metadata stored on a rollback entry
func ProvenanceMetadata(originalID string, original ChangeType) map[string]interface{} {
	return map[string]interface{}{
		MetaRolledBackFromHistory: originalID,
		MetaOriginalChangeType:    string(original),
	}
}

// NewestFirst reports whether a sorts before b: createdAt descending, id
// descending on ties.
func NewestFirst(a, b *Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SortNewestFirst orders entries in place
func SortNewestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return NewestFirst(entries[i], entries[j])
	})
}
