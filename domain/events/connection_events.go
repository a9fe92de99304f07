package events

import (
	"brain2-connections/domain/history"
)

// Event types published for connection history
const (
	TypeConnectionCreated    = "connection.created"
	TypeConnectionModified   = "connection.modified"
	TypeConnectionDeleted    = "connection.deleted"
	TypeConnectionRolledBack = "connection.rolled_back"
)

// ConnectionChanged is raised once per recorded history entry.
// The aggregate is the connection's canonical pair key, which stays stable
// across delete and recreate.
type ConnectionChanged struct {
	BaseEvent
	HistoryID    string `json:"history_id"`
	ConnectionID string `json:"connection_id,omitempty"`
	NodeA        string `json:"node_a"`
	NodeB        string `json:"node_b"`
	ChangeType   string `json:"change_type"`
	ActorID      string `json:"actor_id"`
	Reason       string `json:"reason,omitempty"`
	// RolledBackFrom is set when the change was produced by a rollback
	RolledBackFrom string `json:"rolled_back_from,omitempty"`
}

// ConnectionRolledBack is raised in addition to ConnectionChanged when a
// rollback commits.
type ConnectionRolledBack struct {
	BaseEvent
	HistoryID          string `json:"history_id"`
	OriginalHistoryID  string `json:"original_history_id"`
	OriginalChangeType string `json:"original_change_type"`
	NodeA              string `json:"node_a"`
	NodeB              string `json:"node_b"`
	ActorID            string `json:"actor_id"`
}

func changeEventType(c history.ChangeType) string {
	switch c {
	case history.ChangeCreated:
		return TypeConnectionCreated
	case history.ChangeModified:
		return TypeConnectionModified
	default:
		return TypeConnectionDeleted
	}
}

// NewConnectionChanged builds the event for a recorded entry
func NewConnectionChanged(entry *history.Entry) ConnectionChanged {
	evt := ConnectionChanged{
		BaseEvent: BaseEvent{
			AggregateID: entry.PairKey(),
			EventType:   changeEventType(entry.ChangeType),
			Timestamp:   entry.CreatedAt,
			Version:     1,
		},
		HistoryID:  entry.ID,
		NodeA:      entry.NodeA,
		NodeB:      entry.NodeB,
		ChangeType: string(entry.ChangeType),
		ActorID:    entry.ActorID,
		Reason:     entry.Reason,
	}
	if entry.ConnectionID != nil {
		evt.ConnectionID = *entry.ConnectionID
	} else if entry.BeforeState != nil {
		evt.ConnectionID = entry.BeforeState.ConnectionID
	}
	if from, ok := entry.RolledBackFrom(); ok {
		evt.RolledBackFrom = from
	}
	return evt
}

// EventsForEntry returns every event a committed entry produces
func EventsForEntry(entry *history.Entry) []DomainEvent {
	out := []DomainEvent{NewConnectionChanged(entry)}
	from, ok := entry.RolledBackFrom()
	if !ok {
		return out
	}
	orig, _ := entry.OriginalChangeType()
	out = append(out, ConnectionRolledBack{
		BaseEvent: BaseEvent{
			AggregateID: entry.PairKey(),
			EventType:   TypeConnectionRolledBack,
			Timestamp:   entry.CreatedAt,
			Version:     1,
		},
		HistoryID:          entry.ID,
		OriginalHistoryID:  from,
		OriginalChangeType: string(orig),
		NodeA:              entry.NodeA,
		NodeB:              entry.NodeB,
		ActorID:            entry.ActorID,
	})
	return out
}
