package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	chatService "c4chat/internal/service/chat"
	"c4chat/pkg/validation"
	"errors"
	"net/http"
)

// sendServiceError maps a service error onto the API error envelope.
// Unrecognized errors are logged and reported as fallback.
func sendServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		respond.Error(w, http.StatusNotFound, respond.CodeNotFound, "Not found")
	case errors.Is(err, chatService.ErrForbidden):
		respond.Error(w, http.StatusForbidden, respond.CodeForbidden, "Forbidden")
	case errors.Is(err, db.ErrInsufficientCredit):
		respond.Error(w, http.StatusPaymentRequired, respond.CodeInsufficientCredit, "Insufficient credits or free requests")
	case errors.Is(err, chatService.ErrModelNotAllowed):
		respond.Error(w, http.StatusForbidden, respond.CodeModelNotAllowed, "This model requires a premium account")
	case errors.Is(err, db.ErrPremiumRequired):
		respond.Error(w, http.StatusForbidden, respond.CodePremiumRequired, "A premium account is required")
	case errors.Is(err, db.ErrThreadGenerating):
		respond.Error(w, http.StatusConflict, respond.CodeThreadGenerating, "Thread is currently generating")
	case errors.Is(err, validation.ErrUnsupportedFileType):
		respond.Error(w, http.StatusUnsupportedMediaType, respond.CodeUnsupportedFileType, err.Error())
	default:
		logger.Log.WithError(err).Error(fallback)
		respond.Error(w, http.StatusInternalServerError, respond.CodeServerError, fallback)
	}
}
