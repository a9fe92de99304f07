package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/domain/history"
	"brain2-connections/pkg/errors"
)

// RetentionJanitor purges ledger entries past the retention age.
// It never touches connections.
type RetentionJanitor struct {
	ledger      ports.HistoryLedger
	metrics     ports.Metrics
	logger      *zap.Logger
	defaultDays int
}

// NewRetentionJanitor creates a janitor; defaultDays <= 0 means 365
func NewRetentionJanitor(ledger ports.HistoryLedger, metrics ports.Metrics, logger *zap.Logger, defaultDays int) *RetentionJanitor {
	if defaultDays <= 0 {
		defaultDays = history.DefaultRetentionDays
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &RetentionJanitor{ledger: ledger, metrics: metrics, logger: logger, defaultDays: defaultDays}
}

// DefaultDays is the retention age used by scheduled sweeps
func (j *RetentionJanitor) DefaultDays() int {
	return j.defaultDays
}

// Cleanup deletes entries created before now minus olderThanDays.
// Zero deletes everything recorded so far.
func (j *RetentionJanitor) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, errors.NewValidationError("olderThanDays must not be negative")
	}
	start := time.Now()
	n, err := j.ledger.Cleanup(ctx, olderThanDays)
	if err != nil {
		j.logger.Error("History cleanup failed", zap.Int("olderThanDays", olderThanDays), zap.Error(err))
		return 0, err
	}
	j.metrics.EntriesPurged(n)
	j.logger.Info("History cleanup finished",
		zap.Int("olderThanDays", olderThanDays),
		zap.Int("deleted", n),
		zap.Duration("took", time.Since(start)),
	)
	return n, nil
}

// Run sweeps with the default age every interval until ctx is done.
// A failed sweep is logged and retried on the next tick.
func (j *RetentionJanitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	j.logger.Info("Retention sweep scheduled", zap.Duration("interval", interval), zap.Int("olderThanDays", j.defaultDays))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Retention sweep stopped")
			return
		case <-ticker.C:
			_, _ = j.Cleanup(ctx, j.defaultDays)
		}
	}
}
