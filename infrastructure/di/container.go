package di

import (
	"go.uber.org/zap"

	"brain2-connections/application/ports"
	"brain2-connections/application/services"
	"brain2-connections/infrastructure/config"
	"brain2-connections/pkg/auth"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/observability"
	"brain2-connections/pkg/utils"
)

// Container holds all application dependencies
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Clock     utils.Clock
	Store     ports.Store
	Publisher ports.EventPublisher

	Connections *services.ConnectionService
	Rollback    *services.RollbackEngine
	History     *services.HistoryService
	Janitor     *services.RetentionJanitor

	Metrics         *observability.Collector
	CloudWatch      *observability.CloudWatchMetrics
	Tracer          *observability.Tracer
	ErrorHandler    *errors.ErrorHandler
	JWTValidator    *auth.JWTValidator
	RollbackLimiter auth.RateLimiter
}
