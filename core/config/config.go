package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned when the configured LLM provider has no API key.
var ErrMissingAPIKey = errors.New("missing LLM API key")

type Config struct {
	OTel     OTelConfig
	LLM      LLMConfig
	Google   GoogleConfig
	Fetch    FetchConfig
	Cache    CacheConfig
	Env      string
	Port     int
	LogLevel string

	DefaultSinceHours int
	OutputDir         string
	AllowedOrigins    []string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type LLMConfig struct {
	Provider  string // "openai" or "anthropic"
	APIKey    string
	BaseURL   string // Optional: for custom endpoints
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type GoogleConfig struct {
	CredentialsPath string
	TokenPath       string
	BaseURL         string // Optional: overrides the Drive API endpoint
}

type FetchConfig struct {
	Timeout       time.Duration
	MaxAttempts   int
	RatePerSecond float64
}

type CacheConfig struct {
	TTL      time.Duration
	RedisURL string
}

// Load loads configuration from environment variables.
// In development, values from a local .env file are loaded first;
// variables already present in the environment win.
func Load() (Config, error) {
	if getEnv("COORDINATOR_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	provider := strings.ToLower(getEnv("LLM_PROVIDER", "openai"))

	cfg := Config{
		Env:               getEnv("COORDINATOR_ENV", "development"),
		Port:              getEnvInt("PORT", 8000),
		LogLevel:          getEnv("LOG_LEVEL", ""),
		DefaultSinceHours: getEnvInt("DEFAULT_SINCE_HOURS", 48),
		OutputDir:         getEnv("OUTPUT_DIR", "output"),
		AllowedOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "docs-coordinator"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		LLM: LLMConfig{
			Provider:  provider,
			MaxTokens: getEnvInt("LLM_MAX_TOKENS", 4096),
			Timeout:   time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Google: GoogleConfig{
			CredentialsPath: getEnv("GOOGLE_CREDENTIALS_PATH", "credentials/credentials.json"),
			TokenPath:       getEnv("GOOGLE_TOKEN_PATH", "credentials/token.json"),
			BaseURL:         getEnv("GOOGLE_API_BASE_URL", ""),
		},
		Fetch: FetchConfig{
			Timeout:       time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxAttempts:   getEnvInt("FETCH_MAX_ATTEMPTS", 3),
			RatePerSecond: getEnvFloat("FETCH_RATE_PER_SECOND", 5),
		},
		Cache: CacheConfig{
			TTL:      time.Duration(getEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
			RedisURL: getEnv("REDIS_URL", ""),
		},
	}

	switch provider {
	case "anthropic":
		cfg.LLM.APIKey = getEnv("ANTHROPIC_API_KEY", "")
		cfg.LLM.BaseURL = getEnv("ANTHROPIC_BASE_URL", "")
		cfg.LLM.Model = getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250514")
	case "openai":
		cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", "")
		cfg.LLM.BaseURL = getEnv("OPENAI_BASE_URL", "")
		cfg.LLM.Model = getEnv("OPENAI_MODEL", "gpt-4o-mini")
	default:
		return Config{}, fmt.Errorf("unsupported LLM_PROVIDER: %s", provider)
	}

	if cfg.DefaultSinceHours < 0 {
		return Config{}, fmt.Errorf("DEFAULT_SINCE_HOURS must not be negative")
	}
	if cfg.Fetch.MaxAttempts < 1 {
		cfg.Fetch.MaxAttempts = 1
	}

	return cfg, nil
}

// Validate checks the preconditions a pipeline run cannot proceed without.
func (c Config) Validate() error {
	if !c.LLM.Enabled() {
		return fmt.Errorf("%w: set %s", ErrMissingAPIKey, c.LLM.apiKeyEnv())
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && (c.Provider == "openai" || c.Provider == "anthropic")
}

func (c LLMConfig) apiKeyEnv() string {
	if c.Provider == "anthropic" {
		return "ANTHROPIC_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func (c CacheConfig) RedisEnabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
