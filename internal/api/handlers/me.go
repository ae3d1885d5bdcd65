package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"c4chat/pkg/validation"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// MeResponse is the user's account and billing state. The upstream key
// itself is never returned.
type MeResponse struct {
	ID                       string          `json:"id"`
	Username                 string          `json:"username"`
	Email                    string          `json:"email"`
	AccountCredits           int64           `json:"accountCredits"`
	FreeRequestsLeft         int             `json:"freeRequestsLeft"`
	FreeRequestsBillingCycle string          `json:"freeRequestsBillingCycle"`
	LastModelUsed            string          `json:"lastModelUsed"`
	PinnedModels             []string        `json:"pinnedModels"`
	UnsentAttachments        []db.Attachment `json:"unsentAttachments"`
	Premium                  bool            `json:"premium"`
}

// GetMeHandler returns the authenticated user's account state
func (ch *ChatHandlers) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	// rolls the allowance over when a new period started
	user, err := ch.config.DB.ChargeUser(r.Context(), userID, func(user *db.User) error {
		ch.config.Ledger.EnsureBillingPeriod(user)
		return nil
	})
	if err != nil {
		sendServiceError(w, err, "Error retrieving user")
		return
	}

	resp := MeResponse{
		ID:                       user.ID,
		Username:                 user.Username,
		Email:                    user.Email,
		AccountCredits:           user.AccountCredits,
		FreeRequestsLeft:         user.FreeRequestsLeft,
		FreeRequestsBillingCycle: user.FreeRequestsBillingCycle,
		LastModelUsed:            user.LastModelUsed,
		PinnedModels:             user.PinnedModels,
		UnsentAttachments:        user.UnsentAttachments,
		Premium:                  user.IsPremium(),
	}
	if resp.PinnedModels == nil {
		resp.PinnedModels = []string{}
	}
	if resp.UnsentAttachments == nil {
		resp.UnsentAttachments = []db.Attachment{}
	}
	respond.JSON(w, http.StatusOK, resp)
}

// SetOpenRouterKeyHandler stores the user's own upstream key. An empty key
// drops the user back to the free tier.
func (ch *ChatHandlers) SetOpenRouterKeyHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	var req validation.OpenRouterKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := ch.validator.ValidateOpenRouterKey(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, err.Error())
		return
	}

	if err := ch.config.DB.UpdateOpenRouterKey(r.Context(), userID, req.Key); err != nil {
		sendServiceError(w, err, "Error updating key")
		return
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "premium": req.Key != ""}).Info("OpenRouter key updated")
	w.WriteHeader(http.StatusNoContent)
}
