// Package main runs the history retention sweep on an EventBridge schedule.
package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"brain2-connections/application/services"
	"brain2-connections/infrastructure/config"
	"brain2-connections/infrastructure/di"
	"brain2-connections/pkg/observability"
)

// SweepResult is returned to the scheduler and shows up in the invocation log
type SweepResult struct {
	Deleted       int    `json:"deleted"`
	OlderThanDays int    `json:"olderThanDays"`
	Duration      string `json:"duration"`
}

// sweeper runs one retention pass and reports it
type sweeper struct {
	janitor    *services.RetentionJanitor
	cloudwatch *observability.CloudWatchMetrics
	logger     *zap.Logger
}

// Handle is invoked by the scheduled rule
func (s *sweeper) Handle(ctx context.Context, event events.CloudWatchEvent) (SweepResult, error) {
	days := s.janitor.DefaultDays()
	s.logger.Info("Retention sweep triggered",
		zap.String("eventID", event.ID),
		zap.String("source", event.Source),
		zap.Int("olderThanDays", days),
	)

	start := time.Now()
	deleted, err := s.janitor.Cleanup(ctx, days)
	if err != nil {
		return SweepResult{}, err
	}
	took := time.Since(start)

	// metric delivery must not fail a sweep that already deleted entries
	if err := s.cloudwatch.RecordPurge(ctx, deleted, days, took); err != nil {
		s.logger.Warn("Failed to publish purge metrics", zap.Error(err))
	}
	return SweepResult{Deleted: deleted, OlderThanDays: days, Duration: took.String()}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()

	s := &sweeper{
		janitor:    container.Janitor,
		cloudwatch: container.CloudWatch,
		logger:     container.Logger,
	}
	lambda.Start(s.Handle)
}
