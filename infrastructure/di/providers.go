package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"brain2-connections/application/ports"
	"brain2-connections/application/services"
	"brain2-connections/infrastructure/config"
	"brain2-connections/infrastructure/messaging/eventbridge"
	"brain2-connections/infrastructure/messaging/logging"
	"brain2-connections/infrastructure/persistence/dynamodb"
	"brain2-connections/infrastructure/persistence/memory"
	"brain2-connections/infrastructure/persistence/sqlite"
	"brain2-connections/pkg/auth"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/observability"
	"brain2-connections/pkg/utils"
)

// ServiceName names this service in traces and events
const ServiceName = "brain2-connections"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", ServiceName)), nil
}

// ProvideClock returns the wall clock
func ProvideClock() utils.Clock {
	return utils.SystemClock
}

// ProvideAWSConfig creates AWS configuration. Credentials resolve lazily, so
// this succeeds for the local backends too.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideStore opens the configured storage backend
func ProvideStore(
	ctx context.Context,
	cfg *config.Config,
	client *awsdynamodb.Client,
	clock utils.Clock,
	logger *zap.Logger,
) (ports.Store, func(), error) {
	noop := func() {}

	switch cfg.StorageBackend {
	case config.BackendMemory:
		logger.Warn("Using in-memory storage; history is lost on restart")
		return memory.NewStore(clock, logger), noop, nil

	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, clock, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close SQLite store", zap.Error(err))
			}
		}, nil

	case config.BackendDynamoDB:
		if client == nil {
			return nil, nil, fmt.Errorf("dynamodb backend needs a client")
		}
		store, err := dynamodb.NewStore(client, dynamodb.Config{
			TableName: cfg.DynamoDBTable,
			GSI1Name:  cfg.IndexName,
			GSI2Name:  cfg.GSI2IndexName,
			LockTTL:   cfg.LockTTL,
			LockWait:  cfg.LockWait,
		}, clock, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// ProvideEventPublisher publishes to EventBridge when events are enabled and
// only logs them otherwise
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents {
		return logging.NewPublisher(logger)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, eventbridge.DefaultBreakerConfig(), logger)
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	return observability.NewCollector("brain2_connections")
}

// ProvideCloudWatchMetrics creates the CloudWatch publisher used by the
// retention sweep
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CloudWatchMetrics {
	if !cfg.EnableMetrics {
		return observability.NewCloudWatchMetrics(cfg.CloudWatchNamespace, nil, logger)
	}
	return observability.NewCloudWatchMetrics(cfg.CloudWatchNamespace, client, logger)
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer(ServiceName, cfg.EnableTracing)
}

// ProvideConnectionService creates the mutation service
func ProvideConnectionService(
	store ports.Store,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	logger *zap.Logger,
) *services.ConnectionService {
	return services.NewConnectionService(store, publisher, metrics, logger)
}

// ProvideRollbackEngine creates the rollback engine
func ProvideRollbackEngine(
	cfg *config.Config,
	store ports.Store,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	logger *zap.Logger,
) *services.RollbackEngine {
	opts := services.DefaultRollbackOptions()
	opts.StrictStaleness = cfg.StrictStaleness
	return services.NewRollbackEngine(store, publisher, metrics, logger, opts)
}

// ProvideHistoryService creates the ledger read service
func ProvideHistoryService(store ports.Store, logger *zap.Logger) *services.HistoryService {
	return services.NewHistoryService(store.History(), logger)
}

// ProvideRetentionJanitor creates the retention janitor
func ProvideRetentionJanitor(cfg *config.Config, store ports.Store, metrics ports.Metrics, logger *zap.Logger) *services.RetentionJanitor {
	return services.NewRetentionJanitor(store.History(), metrics, logger, cfg.RetentionDays)
}

// ProvideErrorHandler creates the HTTP error renderer. Internal details are
// only exposed in development.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideJWTValidator returns nil when no secret is configured, which puts
// the API into trusted-header mode
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
	})
}

// ProvideRollbackLimiter limits rollbacks per actor; nil disables limiting
func ProvideRollbackLimiter(cfg *config.Config, clock utils.Clock) auth.RateLimiter {
	if cfg.RollbackRatePerMin <= 0 {
		return nil
	}
	return auth.NewSlidingWindowLimiter(cfg.RollbackRatePerMin, time.Minute, clock)
}
