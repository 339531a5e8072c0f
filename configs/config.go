package configs

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Broker       BrokerConfig
	Confirmation ConfirmationConfig
	Monitor      MonitorConfig
	Scheduler    SchedulerConfig
	Telegram     TelegramConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string
	OpsPort       string
	Env           string
	WebhookSecret string // shared secret expected on signal webhook requests
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration. Redis backs the per-position
// exit lease; when the URL is empty an in-process lease table is used.
type RedisConfig struct {
	URL string
}

// BrokerConfig holds broker gateway configuration
type BrokerConfig struct {
	BaseURL        string
	CredentialsKey string // hex-encoded 32-byte AES key for sealed user credentials
}

// ConfirmationConfig holds the polling budgets of the order
// confirmation protocol. Market and limit orders carry separate
// presets: market fills resolve in seconds, limit orders may rest for
// minutes.
type ConfirmationConfig struct {
	MarketMaxWait        time.Duration
	MarketPollInterval   time.Duration
	MarketMaxAttempts    int
	LimitMaxWait         time.Duration
	LimitPollInterval    time.Duration
	LimitMaxAttempts     int
	PartialFillThreshold float64 // accepted fill fraction; default 0.8, pending business-owner confirmation
}

// MonitorConfig holds the order monitoring sweep configuration
type MonitorConfig struct {
	Interval               time.Duration
	BatchSize              int
	MaxOrderAge            time.Duration
	MaxConsecutiveFailures int
}

// SchedulerConfig holds auto-exit and cleanup scheduling configuration
type SchedulerConfig struct {
	MarketTZ            string
	DefaultExitTime     string // "HH:MM"
	DailyCleanupTime    string // "HH:MM"
	ClosedRetentionDays int
	ExitLeaseTTL        time.Duration
}

// TelegramConfig holds operator notification configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			OpsPort:       getEnv("OPS_PORT", "9090"),
			Env:           getEnv("GO_ENV", "development"),
			WebhookSecret: getEnv("SIGNAL_WEBHOOK_SECRET", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Broker: BrokerConfig{
			BaseURL:        getEnv("BROKER_BASE_URL", "http://localhost:9000"),
			CredentialsKey: getEnv("CREDENTIALS_KEY", ""),
		},
		Confirmation: ConfirmationConfig{
			MarketMaxWait:        getEnvDuration("CONFIRM_MARKET_MAX_WAIT", 30*time.Second),
			MarketPollInterval:   getEnvDuration("CONFIRM_MARKET_POLL_INTERVAL", 2*time.Second),
			MarketMaxAttempts:    getEnvInt("CONFIRM_MARKET_MAX_ATTEMPTS", 15),
			LimitMaxWait:         getEnvDuration("CONFIRM_LIMIT_MAX_WAIT", 5*time.Minute),
			LimitPollInterval:    getEnvDuration("CONFIRM_LIMIT_POLL_INTERVAL", 15*time.Second),
			LimitMaxAttempts:     getEnvInt("CONFIRM_LIMIT_MAX_ATTEMPTS", 20),
			PartialFillThreshold: getEnvFloat("CONFIRM_PARTIAL_FILL_THRESHOLD", 0.8),
		},
		Monitor: MonitorConfig{
			Interval:               getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
			BatchSize:              getEnvInt("MONITOR_BATCH_SIZE", 50),
			MaxOrderAge:            getEnvDuration("MONITOR_MAX_ORDER_AGE", 15*time.Minute),
			MaxConsecutiveFailures: getEnvInt("MONITOR_MAX_CONSECUTIVE_FAILURES", 5),
		},
		Scheduler: SchedulerConfig{
			MarketTZ:            getEnv("MARKET_TZ", "Asia/Kolkata"),
			DefaultExitTime:     getEnv("DEFAULT_EXIT_TIME", "15:15"),
			DailyCleanupTime:    getEnv("DAILY_CLEANUP_TIME", "16:00"),
			ClosedRetentionDays: getEnvInt("CLOSED_RETENTION_DAYS", 30),
			ExitLeaseTTL:        getEnvDuration("EXIT_LEASE_TTL", 30*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		},
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
