package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Application base URL (for Checkout return links)
	BaseURL string

	// Entitlement store
	StoreDriver string // "postgres" or "memory"
	DatabaseUrl string

	// Quota policy
	FreeTrialLimit              int
	TrialWindowDays             int
	PaidTicketsExpireWithWindow bool

	// Identity tokens
	AuthJWTSecret   string
	AuthJWTIssuer   string
	AuthJWTAudience string

	// AI Provider Configuration
	AIProvider       string // "openai", "anthropic" or "mock"
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIAPIURL     string
	AnthropicAPIKey  string
	AnthropicModel   string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Payment gateway
	PaymentProvider string // "toss" or "mock"
	TossSecretKey   string
	TossAPIURL      string

	// Stripe Checkout (optional second rail)
	StripeSecretKey     string
	StripeWebhookSecret string

	// Storage Configuration
	StorageProvider string // "local", "r2" or "none"

	// Local Storage (development)
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string

	// Grade rate limiting. An empty RedisURL keeps counters in process.
	RedisURL        string
	GradeRateLimit  int
	GradeRateWindow time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DatabaseUrl: getEnv("DATABASE_URL", ""),

		FreeTrialLimit:              getEnvInt("FREE_TRIAL_LIMIT", 3),
		TrialWindowDays:             getEnvInt("TRIAL_WINDOW_DAYS", 30),
		PaidTicketsExpireWithWindow: getEnvBool("PAID_TICKETS_EXPIRE_WITH_WINDOW", false),

		AuthJWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
		AuthJWTIssuer:   getEnv("AUTH_JWT_ISSUER", ""),
		AuthJWTAudience: getEnv("AUTH_JWT_AUDIENCE", ""),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIAPIURL:     getEnv("OPENAI_API_URL", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", ""),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 1),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		// Payment gateway defaults to the approving mock for development
		PaymentProvider: getEnv("PAYMENT_PROVIDER", "mock"),
		TossSecretKey:   getEnv("TOSS_SECRET_KEY", ""),
		TossAPIURL:      getEnv("TOSS_API_URL", ""),

		// Stripe Checkout (optional, disabled without a secret key)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		RedisURL:        getEnv("REDIS_URL", ""),
		GradeRateLimit:  getEnvInt("GRADE_RATE_LIMIT", 10),
		GradeRateWindow: getEnvDuration("GRADE_RATE_WINDOW", time.Minute),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Validate store configuration
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is 'postgres'")
		}
	case "memory":
		if cfg.IsProduction() {
			return nil, fmt.Errorf("STORE_DRIVER 'memory' is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be either 'postgres' or 'memory', got: %s", cfg.StoreDriver)
	}

	// Validate quota policy
	if cfg.FreeTrialLimit < 0 {
		return nil, fmt.Errorf("FREE_TRIAL_LIMIT must not be negative, got: %d", cfg.FreeTrialLimit)
	}
	if cfg.TrialWindowDays <= 0 {
		return nil, fmt.Errorf("TRIAL_WINDOW_DAYS must be positive, got: %d", cfg.TrialWindowDays)
	}

	// Required
	if cfg.AuthJWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'openai', 'anthropic' or 'mock', got: %s", cfg.AIProvider)
	}

	// Validate payment configuration
	switch cfg.PaymentProvider {
	case "toss":
		if cfg.TossSecretKey == "" {
			return nil, fmt.Errorf("TOSS_SECRET_KEY is required when PAYMENT_PROVIDER is 'toss'")
		}
	case "mock":
		if cfg.IsProduction() {
			return nil, fmt.Errorf("PAYMENT_PROVIDER 'mock' is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("PAYMENT_PROVIDER must be either 'toss' or 'mock', got: %s", cfg.PaymentProvider)
	}
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	// Validate storage configuration
	switch cfg.StorageProvider {
	case "r2":
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	case "local", "none":
	default:
		return nil, fmt.Errorf("STORAGE_PROVIDER must be one of 'local', 'r2' or 'none', got: %s", cfg.StorageProvider)
	}

	if cfg.GradeRateLimit <= 0 {
		return nil, fmt.Errorf("GRADE_RATE_LIMIT must be positive, got: %d", cfg.GradeRateLimit)
	}
	if cfg.GradeRateWindow <= 0 {
		return nil, fmt.Errorf("GRADE_RATE_WINDOW must be positive, got: %s", cfg.GradeRateWindow)
	}

	return cfg, nil
}

// IsProduction reports whether the service runs outside development.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
