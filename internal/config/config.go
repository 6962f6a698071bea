package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	// WATI provider credentials and endpoint.
	WatiBaseURL     string
	WatiAPIKey      string
	WatiTimeout     time.Duration
	WatiOperatorID  string
	TicketPrefix    string
	MaxButtonLabels int

	// Dedup cache. When RedisAddr is set the cache is shared across
	// replicas; otherwise an in-process cache is used.
	RedisAddr         string
	RedisPassword     string
	InboundDedupTTL   time.Duration
	ResendSuppression time.Duration
	DedupCapacity     int

	// Kafka ticket event stream (optional; empty brokers disable it).
	KafkaBrokers     []string
	KafkaTicketTopic string

	// Reply window for agent-initiated session messages.
	ReplyWindow time.Duration

	// Operator API rate limiting, per IP. Zero disables it.
	OperatorRateLimit float64
	OperatorRateBurst int

	// Origins allowed to call the operator API from a browser. Empty
	// disables CORS handling.
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		WatiBaseURL:     getEnv("WATI_BASE_URL", "https://live-server.wati.io/api/v1"),
		WatiAPIKey:      getEnv("WATI_API_KEY", ""),
		WatiTimeout:     getEnvAsDuration("WATI_TIMEOUT", 12*time.Second),
		WatiOperatorID:  getEnv("WATI_OPERATOR_EMAIL", ""),
		TicketPrefix:    getEnv("TICKET_PREFIX", "IL"),
		MaxButtonLabels: getEnvAsInt("MAX_BUTTON_LABELS", 3),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		InboundDedupTTL:   getEnvAsDuration("INBOUND_DEDUP_TTL", 24*time.Hour),
		ResendSuppression: getEnvAsDuration("RESEND_SUPPRESSION", 60*time.Second),
		DedupCapacity:     getEnvAsInt("DEDUP_CAPACITY", 10000),

		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTicketTopic: getEnv("KAFKA_TICKET_TOPIC", "ticket-events"),

		ReplyWindow: getEnvAsDuration("REPLY_WINDOW", 24*time.Hour),

		OperatorRateLimit: getEnvAsFloat("OPERATOR_RATE_LIMIT", 20),
		OperatorRateBurst: getEnvAsInt("OPERATOR_RATE_BURST", 40),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
