package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	SyncQueueURL    string
	ProcessTable    string
	ArchiveBucket   string
	ArchiveEnabled  bool
	HandlerTimeout  time.Duration
	MaxConcurrency  int
	OnCreateDelay   time.Duration
	CompletionDelay time.Duration

	QuoBaseURL       string
	QuoAPIKey        string
	QuoWebhookURL    string
	QuoReadbackDelay time.Duration

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	PhoneCacheTTL time.Duration

	AdminJWTSecret string

	EmailProvider     string
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	FailureAlertEmail string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SyncQueueURL:    getEnv("SYNC_QUEUE_URL", ""),
		ProcessTable:    getEnv("PROCESS_TABLE", "sync_processes"),
		ArchiveBucket:   getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEnabled:  getEnvAsBool("ARCHIVE_ENABLED", false),
		HandlerTimeout:  getEnvAsDuration("HANDLER_TIMEOUT", 600*time.Second),
		MaxConcurrency:  getEnvAsInt("MAX_CONCURRENCY", 5),
		OnCreateDelay:   getEnvAsDuration("ON_CREATE_DELAY", 35*time.Second),
		CompletionDelay: getEnvAsDuration("COMPLETION_RETRY_DELAY", 10*time.Second),

		QuoBaseURL:       getEnv("QUO_BASE_URL", ""),
		QuoAPIKey:        getEnv("QUO_API_KEY", ""),
		QuoWebhookURL:    getEnv("QUO_WEBHOOK_URL", ""),
		QuoReadbackDelay: getEnvAsDuration("QUO_READBACK_DELAY", time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		PhoneCacheTTL: getEnvAsDuration("PHONE_CACHE_TTL", 15*time.Minute),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "QuoSync"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "QuoSync"),
		FailureAlertEmail: getEnv("FAILURE_ALERT_EMAIL", ""),
	}
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
