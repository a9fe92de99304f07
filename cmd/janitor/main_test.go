package main

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-connections/application/services"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/infrastructure/messaging/logging"
	"brain2-connections/infrastructure/persistence/memory"
	"brain2-connections/pkg/observability"
	"brain2-connections/pkg/utils"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestSweeper_Handle(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	clock := utils.NewSteppingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)
	store := memory.NewStore(clock.Now, logger)

	conns := services.NewConnectionService(store, logging.NewPublisher(logger), nil, logger)
	_, err := conns.Create(ctx, services.CreateConnectionCommand{
		NodeA: "a", NodeB: "b", Actor: valueobjects.SystemActor("seed"),
	})
	require.NoError(t, err)

	// the entry is two days old by the time the sweep runs
	clock.Advance(48 * time.Hour)

	cw := &fakeCloudWatch{}
	s := &sweeper{
		janitor:    services.NewRetentionJanitor(store.History(), nil, logger, 1),
		cloudwatch: observability.NewCloudWatchMetrics("Test", cw, logger),
		logger:     logger,
	}

	result, err := s.Handle(ctx, events.CloudWatchEvent{ID: "evt-1", Source: "aws.events"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, result.OlderThanDays)
	require.Len(t, cw.inputs, 1)
	assert.Equal(t, "HistoryEntriesPurged", *cw.inputs[0].MetricData[0].MetricName)

	// the connection is untouched
	_, err = conns.FindByPair(ctx, "a", "b")
	assert.NoError(t, err)
}
