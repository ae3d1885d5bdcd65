package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/repository/db"
	"net/http"
)

type ModelsResponse struct {
	Models       []db.ModelSummary `json:"models"`
	DefaultModel string            `json:"defaultModel"`
	FreeModels   []string          `json:"freeModels"`
}

// GetModelsHandler returns the model catalog and the free-tier allowlist
func (ch *ChatHandlers) GetModelsHandler(w http.ResponseWriter, r *http.Request) {
	models, err := ch.config.ModelCache.List(r.Context())
	if err != nil {
		sendServiceError(w, err, "Error retrieving models")
		return
	}
	if models == nil {
		models = []db.ModelSummary{}
	}

	modelsConfig := ch.config.ModelsConfig()
	respond.JSON(w, http.StatusOK, ModelsResponse{
		Models:       models,
		DefaultModel: modelsConfig.GetDefaultModel(),
		FreeModels:   modelsConfig.FreeModelIDs(),
	})
}
