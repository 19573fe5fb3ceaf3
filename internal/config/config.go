// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Storage settings
	StoreDriver string
	DatabaseURL string
	SeedFile    string

	// Redis settings
	RedisURL          string
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	RedisDialTimeout  time.Duration

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	DefaultModel    string
	ModelTimeout    time.Duration

	// Webhook actions
	ActionTimeout   time.Duration
	ActionUserAgent string
	DefaultTimezone string

	// Conversation context
	ContextMaxTurns     int
	ContextTTL          time.Duration
	PendingResponseTTL  time.Duration
	KnowledgeDocLimit   int
	KnowledgeTotalLimit int
	MaxConcurrentTurns  int64

	// Rate limiting
	RateLimitRequests int
	PollRateRequests  int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// Storage
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SeedFile:    getEnv("SEED_FILE", ""),

		// Redis
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisDialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", false),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		ModelTimeout:    getDurationEnv("MODEL_TIMEOUT", 30*time.Second),

		// Webhook actions
		ActionTimeout:   getDurationEnv("ACTION_TIMEOUT", 10*time.Second),
		ActionUserAgent: getEnv("ACTION_USER_AGENT", "AgentRelay-Webhook/1.0"),
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "America/Montreal"),

		// Conversation context
		ContextMaxTurns:     getIntEnv("CONTEXT_MAX_TURNS", 10),
		ContextTTL:          getDurationEnv("CONTEXT_TTL", 30*time.Minute),
		PendingResponseTTL:  getDurationEnv("PENDING_RESPONSE_TTL", 5*time.Minute),
		KnowledgeDocLimit:   getIntEnv("KNOWLEDGE_DOC_LIMIT", 8000),
		KnowledgeTotalLimit: getIntEnv("KNOWLEDGE_TOTAL_LIMIT", 24000),
		MaxConcurrentTurns:  int64(getIntEnv("MAX_CONCURRENT_TURNS", 64)),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		PollRateRequests:  getIntEnv("POLL_RATE_LIMIT_REQUESTS", 600),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
