package dynamodb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"brain2-connections/domain/core/entities"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/domain/history"
)

// connectionItem is the stored form of a connection
type connectionItem struct {
	PK         string                 `dynamodbav:"PK"`
	SK         string                 `dynamodbav:"SK"`
	GSI1PK     string                 `dynamodbav:"GSI1PK"`
	GSI1SK     string                 `dynamodbav:"GSI1SK"`
	EntityType string                 `dynamodbav:"EntityType"`
	ID         string                 `dynamodbav:"ConnectionID"`
	NodeA      string                 `dynamodbav:"NodeA"`
	NodeB      string                 `dynamodbav:"NodeB"`
	PairKey    string                 `dynamodbav:"PairKey"`
	Type       string                 `dynamodbav:"Type"`
	Metadata   map[string]interface{} `dynamodbav:"Metadata,omitempty"`
	Version    int                    `dynamodbav:"Version"`
	CreatedAt  string                 `dynamodbav:"CreatedAt"`
	UpdatedAt  string                 `dynamodbav:"UpdatedAt"`
}

// historyItem is the stored form of a history entry. Snapshots are kept as
// their JSON wire form so legacy payloads decode the same way on every backend.
type historyItem struct {
	PK               string                 `dynamodbav:"PK"`
	SK               string                 `dynamodbav:"SK"`
	GSI1PK           string                 `dynamodbav:"GSI1PK"`
	GSI1SK           string                 `dynamodbav:"GSI1SK"`
	GSI2PK           string                 `dynamodbav:"GSI2PK"`
	GSI2SK           string                 `dynamodbav:"GSI2SK"`
	EntityType       string                 `dynamodbav:"EntityType"`
	ID               string                 `dynamodbav:"HistoryID"`
	ConnectionID     *string                `dynamodbav:"ConnectionID,omitempty"`
	NodeA            string                 `dynamodbav:"NodeA"`
	NodeB            string                 `dynamodbav:"NodeB"`
	PairKey          string                 `dynamodbav:"PairKey"`
	ChangeType       string                 `dynamodbav:"ChangeType"`
	ActorID          string                 `dynamodbav:"ActorID"`
	ActorDisplayName string                 `dynamodbav:"ActorDisplayName"`
	BeforeState      string                 `dynamodbav:"BeforeState,omitempty"`
	AfterState       string                 `dynamodbav:"AfterState,omitempty"`
	Metadata         map[string]interface{} `dynamodbav:"Metadata,omitempty"`
	Reason           string                 `dynamodbav:"Reason,omitempty"`
	CreatedAt        string                 `dynamodbav:"CreatedAt"`
	CreatedAtNanos   int64                  `dynamodbav:"CreatedAtNanos"`
}

func newConnectionItem(c *entities.Connection) connectionItem {
	return connectionItem{
		PK:         connectionPK(c.PairKey()),
		SK:         connectionSK,
		GSI1PK:     connectionByIDKey(c.ID),
		GSI1SK:     connectionSK,
		EntityType: entityConnection,
		ID:         c.ID,
		NodeA:      c.NodeA.String(),
		NodeB:      c.NodeB.String(),
		PairKey:    c.PairKey(),
		Type:       string(c.Type),
		Metadata:   c.Metadata,
		Version:    c.Version,
		CreatedAt:  formatTime(c.CreatedAt),
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

func (i connectionItem) toConnection() (*entities.Connection, error) {
	a, err := valueobjects.NewNodeIDFromString(i.NodeA)
	if err != nil {
		return nil, err
	}
	b, err := valueobjects.NewNodeIDFromString(i.NodeB)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("connection %s createdAt: %w", i.ID, err)
	}
	updatedAt, err := parseTime(i.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("connection %s updatedAt: %w", i.ID, err)
	}
	return &entities.Connection{
		ID:        i.ID,
		NodeA:     a,
		NodeB:     b,
		Type:      entities.ConnectionType(i.Type),
		Metadata:  i.Metadata,
		Version:   i.Version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func newHistoryItem(e *history.Entry) (historyItem, error) {
	before, err := history.EncodeSnapshot(e.BeforeState)
	if err != nil {
		return historyItem{}, err
	}
	after, err := history.EncodeSnapshot(e.AfterState)
	if err != nil {
		return historyItem{}, err
	}
	sortKey := historySortKey(e.CreatedAt, e.ID)
	return historyItem{
		PK:               historyPK(e.ID),
		SK:               historySK,
		GSI1PK:           pairHistoryKey(e.PairKey()),
		GSI1SK:           sortKey,
		GSI2PK:           actorHistoryKey(e.ActorID),
		GSI2SK:           sortKey,
		EntityType:       entityHistory,
		ID:               e.ID,
		ConnectionID:     e.ConnectionID,
		NodeA:            e.NodeA,
		NodeB:            e.NodeB,
		PairKey:          e.PairKey(),
		ChangeType:       string(e.ChangeType),
		ActorID:          e.ActorID,
		ActorDisplayName: e.ActorDisplayName,
		BeforeState:      string(before),
		AfterState:       string(after),
		Metadata:         e.Metadata,
		Reason:           e.Reason,
		CreatedAt:        formatTime(e.CreatedAt),
		CreatedAtNanos:   e.CreatedAt.UnixNano(),
	}, nil
}

func (i historyItem) toEntry() (*history.Entry, error) {
	createdAt, err := parseTime(i.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("history %s createdAt: %w", i.ID, err)
	}
	e := &history.Entry{
		ID:               i.ID,
		ConnectionID:     i.ConnectionID,
		NodeA:            i.NodeA,
		NodeB:            i.NodeB,
		ChangeType:       history.ChangeType(i.ChangeType),
		ActorID:          i.ActorID,
		ActorDisplayName: i.ActorDisplayName,
		Metadata:         i.Metadata,
		Reason:           i.Reason,
		CreatedAt:        createdAt,
	}
	if e.BeforeState, err = history.DecodeSnapshot([]byte(i.BeforeState)); err != nil {
		return nil, fmt.Errorf("history %s before state: %w", i.ID, err)
	}
	if e.AfterState, err = history.DecodeSnapshot([]byte(i.AfterState)); err != nil {
		return nil, fmt.Errorf("history %s after state: %w", i.ID, err)
	}
	return e, nil
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func unmarshalConnection(av map[string]types.AttributeValue) (*entities.Connection, error) {
	var item connectionItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, err
	}
	return item.toConnection()
}

func unmarshalEntry(av map[string]types.AttributeValue) (*history.Entry, error) {
	var item historyItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, err
	}
	return item.toEntry()
}
