// Package config provides configuration management for the vitalsync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Provider  ProviderConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	API       APIConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the sync log archive
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProviderConfig holds upstream wearable API configuration
type ProviderConfig struct {
	BaseURL    string
	Timeout    time.Duration
	Categories []string
}

// SyncConfig holds sync scheduler and orchestrator configuration
type SyncConfig struct {
	Enabled             bool
	IntervalMinutes     int
	RunOnStartup        bool
	MaxUsersPerRun      int // 0 = derive batch size from rate-limit budget
	DaysLookback        int
	OrderByPriority     bool
	StaleStartedTimeout time.Duration
}

// RateLimitConfig holds upstream quota tracking configuration
type RateLimitConfig struct {
	CallsPerSyncEstimate int
	SafetyBufferPercent  float64
	DefaultBatchSize     int
}

// APIConfig holds API authentication and per-tier rate limits
type APIConfig struct {
	Key         string
	FreeTierRPS int
	PaidTierRPS int
}

// SecurityConfig holds credential encryption configuration
type SecurityConfig struct {
	TokenEncryptionKey string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "vitalsync"),
				User:           getEnv("POSTGRES_USER", "vitalsync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "vitalsync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Provider: ProviderConfig{
			BaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.wearable.example.com/v3"),
			Timeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			Categories: getEnvAsSlice("PROVIDER_CATEGORIES", []string{"activity", "sleep", "heart_rate", "recharge", "temperature"}),
		},
		Sync: SyncConfig{
			Enabled:             getEnvAsBool("SYNC_ENABLED", true),
			IntervalMinutes:     getEnvAsInt("SYNC_INTERVAL_MINUTES", 60),
			RunOnStartup:        getEnvAsBool("SYNC_ON_STARTUP", false),
			MaxUsersPerRun:      getEnvAsInt("SYNC_MAX_USERS_PER_RUN", 0),
			DaysLookback:        getEnvAsInt("SYNC_DAYS_LOOKBACK", 7),
			OrderByPriority:     getEnvAsBool("SYNC_ORDER_BY_PRIORITY", false),
			StaleStartedTimeout: getEnvAsDuration("SYNC_STALE_STARTED_TIMEOUT", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			CallsPerSyncEstimate: getEnvAsInt("RATE_LIMIT_CALLS_PER_SYNC", 15),
			SafetyBufferPercent:  getEnvAsFloat("RATE_LIMIT_SAFETY_BUFFER", 0.1),
			DefaultBatchSize:     getEnvAsInt("RATE_LIMIT_DEFAULT_BATCH_SIZE", 10),
		},
		API: APIConfig{
			Key:         getEnv("API_KEY", ""),
			FreeTierRPS: getEnvAsInt("API_FREE_TIER_RPS", 10),
			PaidTierRPS: getEnvAsInt("API_PAID_TIER_RPS", 100),
		},
		Security: SecurityConfig{
			TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice gets an environment variable as a comma-separated list
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
