package config

import (
	"encoding/json"
	"os"
)

// Model tiers
const (
	TierFree    = "free"
	TierPremium = "premium"
)

const fallbackModelID = "google/gemini-2.0-flash-001"

// Model represents a model offered to users
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Tier     string `json:"tier"`
}

// ModelsConfig holds the offered models and the free-tier allowlist
type ModelsConfig struct {
	models []Model
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var models []Model
	err = json.Unmarshal(data, &models)
	if err != nil {
		return nil, err
	}

	return &ModelsConfig{models: models}, nil
}

// NewModelsConfigFromList builds a configuration from an in-memory list
func NewModelsConfigFromList(models []Model) *ModelsConfig {
	return &ModelsConfig{models: models}
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// IsFreeModel reports whether a model may be used without a personal upstream key
func (mc *ModelsConfig) IsFreeModel(modelID string) bool {
	for _, model := range mc.models {
		if model.ID == modelID {
			return model.Tier == TierFree
		}
	}
	return false
}

// FreeModelIDs returns the free-tier allowlist in configured order
func (mc *ModelsConfig) FreeModelIDs() []string {
	var ids []string
	for _, model := range mc.models {
		if model.Tier == TierFree {
			ids = append(ids, model.ID)
		}
	}
	return ids
}

// DisplayName returns the configured name for a model id, or "" when unknown
func (mc *ModelsConfig) DisplayName(modelID string) string {
	for _, model := range mc.models {
		if model.ID == modelID {
			return model.Name
		}
	}
	return ""
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	return fallbackModelID
}
