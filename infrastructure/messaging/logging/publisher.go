// Package logging provides an event publisher for deployments without an
// event bus. Events are written to the log instead of being sent anywhere.
package logging

import (
	"context"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/events"
)

// Publisher logs each event at debug level
type Publisher struct {
	logger *zap.Logger
}

// NewPublisher creates a logging publisher
func NewPublisher(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.logger.Debug("Event",
		zap.String("eventType", event.GetEventType()),
		zap.String("aggregateID", event.GetAggregateID()),
		zap.Time("timestamp", event.GetTimestamp()),
	)
	return nil
}

func (p *Publisher) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for _, event := range batch {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

var _ ports.EventPublisher = (*Publisher)(nil)
