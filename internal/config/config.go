// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	PrimaryLLM      string
	EmbeddingModel  string

	// Storage settings
	StorageBackend string // "memory" or "redis"
	RedisURL       string

	// Orchestration settings
	ContextWindowMessages int
	SummaryThreshold      int
	SessionTimeout        time.Duration

	// Handoff settings
	SentimentThreshold float64
	MaxFallbacks       int

	// Retrieval settings
	RetrievalScoreThreshold float64
	KnowledgeLimit          int
	MemoryLimit             int

	// Rate limiting
	RateLimitRequests     int
	UserRateLimitRequests int
	RateLimitWindow       time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		PrimaryLLM:      getEnv("PRIMARY_LLM", "anthropic"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		// Storage
		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Orchestration
		ContextWindowMessages: getIntEnv("CONTEXT_WINDOW_MESSAGES", 10),
		SummaryThreshold:      getIntEnv("SUMMARY_THRESHOLD_MESSAGES", 15),
		SessionTimeout:        getDurationEnv("SESSION_TIMEOUT", 30*time.Minute),

		// Handoff
		SentimentThreshold: getFloatEnv("HANDOFF_SENTIMENT_THRESHOLD", -0.5),
		MaxFallbacks:       getIntEnv("HANDOFF_MAX_FALLBACKS", 2),

		// Retrieval
		RetrievalScoreThreshold: getFloatEnv("RETRIEVAL_SCORE_THRESHOLD", 0.5),
		KnowledgeLimit:          getIntEnv("RETRIEVAL_KNOWLEDGE_LIMIT", 5),
		MemoryLimit:             getIntEnv("RETRIEVAL_MEMORY_LIMIT", 3),

		// Rate limiting
		RateLimitRequests:     getIntEnv("RATE_LIMIT_REQUESTS", 60),
		UserRateLimitRequests: getIntEnv("USER_RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:       getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
