package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Storage
	DatabaseURL string
	RedisURL    string

	// Messaging
	RabbitMQURL      string
	RabbitMQPrefetch int

	// HTTP server
	ServerPort string
	BaseURL    string
	AuthSecret string
	CORSOrigin string

	// AI provider
	OpenAIKey  string
	AIModel    string
	AIBaseURL  string
	ImageModel string

	// Source control integration
	GitHubToken string
	GitHubRepo  string

	// Routing policy
	PolicyFile string

	// Turn processing
	TurnTimeout  time.Duration
	ResponseTTL  time.Duration
	SweepEnabled bool

	// Debug / observability
	ServerDebugMode bool
	WorkerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 10),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		BaseURL:          getEnv("BASE_URL", "http://localhost:8080"),
		AuthSecret:       os.Getenv("AUTH_SECRET"),
		CORSOrigin:       getEnv("CORS_ORIGIN", "*"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		AIModel:          getEnv("AI_MODEL", "gpt-4o-mini"),
		AIBaseURL:        os.Getenv("AI_BASE_URL"),
		ImageModel:       getEnv("IMAGE_MODEL", "dall-e-3"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		GitHubRepo:       os.Getenv("GITHUB_REPO"),
		PolicyFile:       os.Getenv("POLICY_FILE"),
		TurnTimeout:      getEnvDuration("TURN_TIMEOUT", 30*time.Second),
		ResponseTTL:      getEnvDuration("RESPONSE_CACHE_TTL", 5*time.Minute),
		SweepEnabled:     getEnvBool("SESSION_SWEEP_ENABLED", true),
		ServerDebugMode:  getEnvBool("SERVER_DEBUG_MODE", false),
		WorkerDebugMode:  getEnvBool("WORKER_DEBUG_MODE", false),
		OTELEnabled:      getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL environment variable is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
