package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"brain2-connections/domain/events"
)

func TestPublishBatch_LogsEveryEvent(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewPublisher(zap.New(core))

	batch := []events.DomainEvent{
		events.BaseEvent{AggregateID: "a|b", EventType: events.TypeConnectionCreated, Timestamp: time.Now()},
		events.BaseEvent{AggregateID: "a|b", EventType: events.TypeConnectionRolledBack, Timestamp: time.Now()},
	}
	require.NoError(t, p.PublishBatch(context.Background(), batch))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, events.TypeConnectionRolledBack, entries[1].ContextMap()["eventType"])
}
