package config

import (
	"c4chat/internal/logger"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Prompts  PromptConfig
	Billing  BillingConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Cache    CacheConfig
	Models   *ModelsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string
	ClientOrigin string
	// RateLimit uses the limiter "<count>-<period>" format, e.g. "60-M"
	RateLimit string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MigrationsPath string
}

// LLMConfig holds upstream completion API configuration
type LLMConfig struct {
	OpenRouterAPIKey   string
	BaseURL            string
	CheckpointInterval time.Duration
}

// PromptConfig holds the fixed prompt templates and size limits.
// Templates substitute the model display name for {model}.
type PromptConfig struct {
	SystemPrompt             string
	ModelChangePrompt        string
	TitlePrompt              string
	TitleModel               string
	TitleMaxTokens           int
	TitleMessageCharacters   int
	MaxMessageCharacters     int
	PromptCachingModelPrefix []string
}

// BillingConfig holds per-period allowances and prices. Monetary amounts are
// in hundred-thousandths of a cent.
type BillingConfig struct {
	FreeRequestsPerPeriod int
	CreditsPerPeriod      int64
	CostPerMessage        int64
	CostPerAttachmentMB   int64
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// StorageConfig holds S3-compatible blob storage configuration
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

// CacheConfig holds the model summary cache configuration. An empty
// RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr string
	ModelTTL  time.Duration
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	// .env is optional; real environment variables always win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Log.WithError(err).Warn("Could not parse .env file")
	}

	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:         getEnvOrDefault("SERVER_PORT", "8080"),
		ClientOrigin: getEnvOrDefault("CLIENT_ORIGIN", "*"),
		RateLimit:    getEnvOrDefault("RATE_LIMIT", "60-M"),
	}

	config.Database = DatabaseConfig{
		Host:           getEnvOrDefault("DB_HOST", "postgres"),
		Port:           getEnvOrDefault("DB_PORT", "5432"),
		User:           getEnvOrDefault("DB_USER", "postgres"),
		Password:       getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:           getEnvOrDefault("DB_NAME", "c4chat"),
		SSLMode:        getEnvOrDefault("DB_SSLMODE", "disable"),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("OPENROUTER_API_KEY environment variable not set")
	}

	config.LLM = LLMConfig{
		OpenRouterAPIKey:   apiKey,
		BaseURL:            getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		CheckpointInterval: getEnvAsDuration("CHECKPOINT_INTERVAL", 500*time.Millisecond),
	}

	config.Prompts = DefaultPromptConfig()
	config.Prompts.SystemPrompt = getEnvOrDefault("SYSTEM_PROMPT", config.Prompts.SystemPrompt)
	config.Prompts.TitleModel = getEnvOrDefault("TITLE_MODEL", config.Prompts.TitleModel)
	config.Prompts.MaxMessageCharacters = getEnvAsInt("MAX_MESSAGE_CHARACTERS", config.Prompts.MaxMessageCharacters)

	config.Billing = BillingConfig{
		FreeRequestsPerPeriod: getEnvAsInt("FREE_REQUESTS_PER_PERIOD", 25),
		CreditsPerPeriod:      int64(getEnvAsInt("CREDITS_PER_PERIOD", 1*100*1000)),
		CostPerMessage:        int64(getEnvAsInt("COST_PER_MESSAGE", 100)),
		CostPerAttachmentMB:   int64(getEnvAsInt("COST_PER_ATTACHMENT_MB", 100)),
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}

	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	config.Storage = StorageConfig{
		Endpoint:  getEnvOrDefault("S3_ENDPOINT", "minio:9000"),
		AccessKey: getEnvOrDefault("S3_ACCESS_KEY", "minioadmin"),
		SecretKey: getEnvOrDefault("S3_SECRET_KEY", "minioadmin"),
		Bucket:    getEnvOrDefault("S3_BUCKET", "attachments"),
		UseSSL:    getEnvOrDefault("S3_USE_SSL", "false") == "true",
		URLExpiry: getEnvAsDuration("S3_URL_EXPIRY", 7*24*time.Hour),
	}

	config.Cache = CacheConfig{
		RedisAddr: os.Getenv("REDIS_ADDR"),
		ModelTTL:  getEnvAsDuration("MODEL_CACHE_TTL", 10*time.Minute),
	}

	modelsConfigPath := getEnvOrDefault("MODELS_CONFIG_PATH", filepath.Join("config", "models.json"))
	modelsConfig, err := NewModelsConfig(modelsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models config: %w", err)
	}
	config.Models = modelsConfig

	return config, nil
}

// DefaultPromptConfig returns the built-in prompt templates and limits
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		SystemPrompt:             "You are C4 Chat, a helpful AI assistant. You are powered by the model {model}. If asked, humanize your model name.",
		ModelChangePrompt:        "You are now powered by the model {model}.",
		TitlePrompt:              "NAME THREAD. RETURN ONLY TITLE. FIRST MESSAGE: ",
		TitleModel:               "google/gemini-2.0-flash-lite-001",
		TitleMaxTokens:           40,
		TitleMessageCharacters:   300,
		MaxMessageCharacters:     8000,
		PromptCachingModelPrefix: []string{"anthropic/", "google/gemini"},
	}
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
