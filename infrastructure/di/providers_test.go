package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brain2-connections/infrastructure/config"
	"brain2-connections/infrastructure/messaging/eventbridge"
	"brain2-connections/infrastructure/messaging/logging"
	"brain2-connections/infrastructure/persistence/memory"
	"brain2-connections/infrastructure/persistence/sqlite"
	"brain2-connections/pkg/utils"
)

func TestProvideLogger(t *testing.T) {
	cfg := config.Default()
	logger, err := ProvideLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.LogLevel = "loud"
	_, err = ProvideLogger(cfg)
	assert.Error(t, err)
}

func TestProvideStore(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("memory", func(t *testing.T) {
		store, cleanup, err := ProvideStore(ctx, config.Default(), nil, utils.SystemClock, logger)
		require.NoError(t, err)
		defer cleanup()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.StorageBackend = config.BackendSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "history.db")

		store, cleanup, err := ProvideStore(ctx, cfg, nil, utils.SystemClock, logger)
		require.NoError(t, err)
		defer cleanup()
		assert.IsType(t, &sqlite.Store{}, store)
	})

	t.Run("dynamodb needs a client", func(t *testing.T) {
		cfg := config.Default()
		cfg.StorageBackend = config.BackendDynamoDB

		_, _, err := ProvideStore(ctx, cfg, nil, utils.SystemClock, logger)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.StorageBackend = "tape"

		_, _, err := ProvideStore(ctx, cfg, nil, utils.SystemClock, logger)
		assert.Error(t, err)
	})
}

func TestProvideEventPublisher(t *testing.T) {
	cfg := config.Default()
	assert.IsType(t, &logging.Publisher{}, ProvideEventPublisher(cfg, nil, zap.NewNop()))

	cfg.EnableEvents = true
	assert.IsType(t, &eventbridge.Publisher{}, ProvideEventPublisher(cfg, nil, zap.NewNop()))
}

func TestProvideJWTValidatorAndLimiter(t *testing.T) {
	cfg := config.Default()

	validator, err := ProvideJWTValidator(cfg)
	require.NoError(t, err)
	assert.Nil(t, validator, "no secret means trusted headers")

	cfg.JWTSecret = "s3cret"
	validator, err = ProvideJWTValidator(cfg)
	require.NoError(t, err)
	assert.NotNil(t, validator)

	assert.NotNil(t, ProvideRollbackLimiter(cfg, utils.SystemClock))
	cfg.RollbackRatePerMin = 0
	assert.Nil(t, ProvideRollbackLimiter(cfg, utils.SystemClock))
}

func TestProvideRollbackEngine_HonorsStaleness(t *testing.T) {
	cfg := config.Default()
	cfg.StrictStaleness = false
	store := memory.NewStore(utils.SystemClock, zap.NewNop())

	engine := ProvideRollbackEngine(cfg, store, logging.NewPublisher(zap.NewNop()), ProvideMetrics(cfg), zap.NewNop())
	assert.NotNil(t, engine)
}
