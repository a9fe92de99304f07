package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 365, cfg.RetentionDays)
	assert.True(t, cfg.StrictStaleness)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Zero(t, cfg.RetentionInterval)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage_backend: sqlite
sqlite_path: /tmp/history.db
retention_days: 90
retention_interval: 1h
strict_staleness: false
cors_origins: ["https://app.example.com"]
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_RETENTION_DAYS", "30")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "/tmp/history.db", cfg.SQLitePath)
	assert.Equal(t, 30, cfg.RetentionDays, "env wins over file")
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.False(t, cfg.StrictStaleness)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StorageBackend = "postgres" }, `unknown storage backend "postgres"`},
		{"dynamo without table", func(c *Config) {
			c.StorageBackend = BackendDynamoDB
			c.DynamoDBTable = ""
		}, "DYNAMODB_TABLE is required"},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, "HISTORY_RETENTION_DAYS must not be negative"},
		{"production without secret", func(c *Config) {
			c.Environment = "production"
			c.StorageBackend = BackendDynamoDB
		}, "JWT_SECRET is required in production"},
		{"production on memory", func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = "s3cret"
		}, "the memory backend is not allowed in production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CORS_ORIGINS", " https://a.example.com, ,https://b.example.com")
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, getEnvList("CORS_ORIGINS", nil))
}
