package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// PutMetricDataAPI is the subset of *cloudwatch.Client used here
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics publishes operational metrics from short-lived
// processes that Prometheus never scrapes, such as the janitor Lambda.
type CloudWatchMetrics struct {
	namespace string
	client    PutMetricDataAPI
	logger    *zap.Logger
}

// NewCloudWatchMetrics creates a publisher. A nil client disables it.
func NewCloudWatchMetrics(namespace string, client PutMetricDataAPI, logger *zap.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudWatchMetrics{namespace: namespace, client: client, logger: logger}
}

// RecordPurge publishes HistoryEntriesPurged for one cleanup run
func (m *CloudWatchMetrics) RecordPurge(ctx context.Context, purged, olderThanDays int, duration time.Duration) error {
	if m.client == nil {
		return nil
	}
	now := time.Now()
	retention := []types.Dimension{
		{
			Name:  aws.String("RetentionDays"),
			Value: aws.String(strconv.Itoa(olderThanDays)),
		},
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String("HistoryEntriesPurged"),
				Dimensions: retention,
				Value:      aws.Float64(float64(purged)),
				Unit:       types.StandardUnitCount,
				Timestamp:  aws.Time(now),
			},
			{
				MetricName: aws.String("HistoryCleanupDuration"),
				Dimensions: retention,
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       types.StandardUnitMilliseconds,
				Timestamp:  aws.Time(now),
			},
		},
	})
	if err != nil {
		// metrics never fail the sweep
		m.logger.Warn("Failed to send metrics", zap.Error(err))
	}
	return err
}
