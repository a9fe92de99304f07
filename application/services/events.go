package services

import (
	"context"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/events"
	"brain2-connections/domain/history"
)

// committed reports a recorded entry to metrics and publishes its events.
// It runs only after the unit of work has committed; publish failures are
// logged and never undo the mutation.
func committed(ctx context.Context, publisher ports.EventPublisher, metrics ports.Metrics, logger *zap.Logger, entry *history.Entry) {
	metrics.LedgerAppended(entry.ChangeType)
	if publisher == nil {
		return
	}
	if err := publisher.PublishBatch(ctx, events.EventsForEntry(entry)); err != nil {
		logger.Warn("Failed to publish connection events",
			zap.String("historyID", entry.ID),
			zap.String("changeType", string(entry.ChangeType)),
			zap.Error(err),
		)
	}
}
