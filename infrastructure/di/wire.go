//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"brain2-connections/application/ports"
	"brain2-connections/infrastructure/config"
	"brain2-connections/pkg/observability"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideClock,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideStore,
	ProvideEventPublisher,
	ProvideMetrics,
	wire.Bind(new(ports.Metrics), new(*observability.Collector)),
	ProvideCloudWatchMetrics,
	ProvideTracer,
	ProvideConnectionService,
	ProvideRollbackEngine,
	ProvideHistoryService,
	ProvideRetentionJanitor,
	ProvideErrorHandler,
	ProvideJWTValidator,
	ProvideRollbackLimiter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The cleanup function
// closes the store.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
