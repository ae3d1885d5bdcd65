package app

import (
	"c4chat/internal/cache"
	"c4chat/internal/config"
	"c4chat/internal/repository/db"
	"c4chat/internal/service/billing"
	"c4chat/internal/storage"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig
	// Blobs stores attachment bytes
	Blobs storage.BlobStore
	// ModelCache serves model summaries
	ModelCache *cache.ModelCache
	// Ledger applies the billing rules
	Ledger *billing.Ledger
}

// NewConfig creates a new application configuration
func NewConfig(database db.Database, appConfig *config.AppConfig, blobs storage.BlobStore, modelCache *cache.ModelCache) *Config {
	return &Config{
		DB:         database,
		AppConfig:  appConfig,
		Blobs:      blobs,
		ModelCache: modelCache,
		Ledger:     billing.NewLedger(appConfig.Billing),
	}
}

func (c *Config) ModelsConfig() *config.ModelsConfig {
	return c.AppConfig.Models
}

func (c *Config) Prompts() config.PromptConfig {
	return c.AppConfig.Prompts
}
