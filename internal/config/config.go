package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the call relay service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Optional gRPC health service port; disabled when empty
	GRPCPort string `envconfig:"GRPC_PORT" default:""`

	// Comma-separated origins allowed to open the call stream ("*" for any); empty means same host only
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Upstream chat-completion service
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1/"`
	RelayTimeout  int    `envconfig:"RELAY_TIMEOUT" default:"30"` // seconds

	// Call sessions
	DefaultLanguage string `envconfig:"DEFAULT_LANGUAGE" default:"en-US"`
	HistoryLimit    int    `envconfig:"HISTORY_LIMIT" default:"50"` // ended calls kept in memory

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first attempts to load the given .env files (default ".env"), then the environment.
func Load(envFiles ...string) (*Config, error) {
	// Missing .env files are not an error
	_ = godotenv.Load(envFiles...)

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.RelayTimeout <= 0 {
		return fmt.Errorf("RELAY_TIMEOUT must be positive, got %d", c.RelayTimeout)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	}
	if c.CircuitBreakerMaxFailures <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_MAX_FAILURES must be positive, got %d", c.CircuitBreakerMaxFailures)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
