package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`

	// Storage configuration
	StorageBackend string `yaml:"storage_backend"`
	SQLitePath     string `yaml:"sqlite_path"`

	// AWS configuration
	AWSRegion     string `yaml:"aws_region"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	IndexName     string `yaml:"index_name"`      // GSI1 - connection ids and pair history
	GSI2IndexName string `yaml:"gsi2_index_name"` // GSI2 - actor history
	EventBusName  string `yaml:"event_bus_name"`
	EnableEvents  bool   `yaml:"enable_events"`

	// Distributed lock used by the DynamoDB unit of work
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Authentication
	JWTSecret string `yaml:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer"`

	// History retention
	RetentionDays       int           `yaml:"retention_days"`
	RetentionInterval   time.Duration `yaml:"retention_interval"` // 0 disables the in-process sweep
	StrictStaleness     bool          `yaml:"strict_staleness"`
	RollbackRatePerMin  int           `yaml:"rollback_rate_per_minute"` // 0 disables limiting
	CloudWatchNamespace string        `yaml:"cloudwatch_namespace"`

	// Feature flags
	EnableMetrics bool     `yaml:"enable_metrics"`
	EnableTracing bool     `yaml:"enable_tracing"`
	EnableCORS    bool     `yaml:"enable_cors"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerAddress:       ":8080",
		Environment:         "development",
		StorageBackend:      BackendMemory,
		SQLitePath:          "brain2-connections.db",
		AWSRegion:           "us-west-2",
		DynamoDBTable:       "brain2",
		IndexName:           "GSI1",
		GSI2IndexName:       "GSI2",
		EventBusName:        "brain2-events",
		LockTTL:             10 * time.Second,
		LockWait:            5 * time.Second,
		LogLevel:            "info",
		JWTIssuer:           "brain2-connections",
		RetentionDays:       365,
		StrictStaleness:     true,
		RollbackRatePerMin:  30,
		CloudWatchNamespace: "Brain2/ConnectionHistory",
		EnableMetrics:       true,
		EnableCORS:          true,
		CORSOrigins:         []string{"*"},
	}
}

// LoadConfig loads configuration from the optional CONFIG_FILE overlay and
// then environment variables, which win over the file
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.DynamoDBTable = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", c.DynamoDBTable))
	c.IndexName = getEnv("INDEX_NAME", c.IndexName)
	c.GSI2IndexName = getEnv("GSI2_INDEX_NAME", c.GSI2IndexName)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)
	c.EnableEvents = getEnvBool("ENABLE_EVENTS", c.EnableEvents)
	c.LockTTL = getEnvDuration("LOCK_TTL", c.LockTTL)
	c.LockWait = getEnvDuration("LOCK_WAIT", c.LockWait)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnv("JWT_ISSUER", c.JWTIssuer)

	c.RetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", c.RetentionDays)
	c.RetentionInterval = getEnvDuration("HISTORY_RETENTION_INTERVAL", c.RetentionInterval)
	c.StrictStaleness = getEnvBool("ROLLBACK_STRICT_STALENESS", c.StrictStaleness)
	c.RollbackRatePerMin = getEnvInt("ROLLBACK_RATE_PER_MINUTE", c.RollbackRatePerMin)
	c.CloudWatchNamespace = getEnv("CLOUDWATCH_NAMESPACE", c.CloudWatchNamespace)

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required")
		}
		if c.LockTTL <= 0 {
			return fmt.Errorf("LOCK_TTL must be positive")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	if c.RetentionDays < 0 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must not be negative")
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StorageBackend == BackendMemory {
			return fmt.Errorf("the memory backend is not allowed in production")
		}
		if c.EnableEvents && c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
