package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Env           string
	Port          string
	Mode          string // "web", "worker", or "all"
	LogLevel      string
	LogFormat     string
	DatabaseURL   string
	RedisURL      string
	PublicBaseURL string
	AdminAPIToken string

	// Messaging channel
	WhatsAppAPIURL   string
	WhatsAppAPIToken string
	WhatsAppStubMode bool

	// Broadcast engine knobs
	BroadcastBatchSize     int
	BroadcastMaxAttempts   int
	BroadcastRetryBase     time.Duration
	BroadcastRecipientRate float64 // sends per second per batch
	DefaultBlastRadius     int
	BroadcastStaleAfter    time.Duration
	SweepSchedule          string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Env:           getEnvWithDefault("ENV", "development"),
		Port:          getEnvWithDefault("PORT", "8080"),
		Mode:          getEnvWithDefault("MODE", "all"),
		LogLevel:      getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvWithDefault("LOG_FORMAT", "text"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		PublicBaseURL: getEnvWithDefault("PUBLIC_BASE_URL", "https://moments.local"),
		AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),

		WhatsAppAPIURL:   os.Getenv("WHATSAPP_API_URL"),
		WhatsAppAPIToken: os.Getenv("WHATSAPP_API_TOKEN"),
		WhatsAppStubMode: getEnvBool("WHATSAPP_STUB_MODE", false),

		BroadcastBatchSize:     getEnvInt("BROADCAST_BATCH_SIZE", 50),
		BroadcastMaxAttempts:   getEnvInt("BROADCAST_MAX_ATTEMPTS", 3),
		BroadcastRetryBase:     getEnvDuration("BROADCAST_RETRY_BASE", 200*time.Millisecond),
		BroadcastRecipientRate: getEnvFloat("BROADCAST_RECIPIENT_RATE", 10),
		DefaultBlastRadius:     getEnvInt("BROADCAST_DEFAULT_BLAST_RADIUS", 100),
		BroadcastStaleAfter:    getEnvDuration("BROADCAST_STALE_AFTER", 15*time.Minute),
		SweepSchedule:          getEnvWithDefault("BROADCAST_SWEEP_SCHEDULE", "@every 5m"),
	}

	// Stub mode keeps development usable without channel credentials;
	// anything else needs real ones.
	if !cfg.WhatsAppStubMode && cfg.WhatsAppAPIToken == "" {
		log.Println("WARNING: WHATSAPP_API_TOKEN is not set and stub mode is off; outbound sends will fail")
	}
	if cfg.AdminAPIToken == "" {
		log.Println("WARNING: ADMIN_API_TOKEN is not set; admin endpoints are disabled")
	}

	return cfg
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("WARNING: invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
