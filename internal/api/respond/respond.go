package respond

import (
	"c4chat/internal/logger"
	"encoding/json"
	"net/http"
)

// Error codes carried in the "error" field of an ErrorResponse
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnauthorized        = "unauthorized"
	CodeInsufficientCredit  = "insufficient_credit"
	CodeModelNotAllowed     = "model_not_allowed"
	CodePremiumRequired     = "premium_required"
	CodeThreadGenerating    = "thread_generating"
	CodeNotFound            = "not_found"
	CodeForbidden           = "forbidden"
	CodeAlreadyExists       = "already_exists"
	CodeUnsupportedFileType = "unsupported_file_type"
	CodeRateLimited         = "rate_limited"
	CodeServerError         = "server_error"
)

// ErrorResponse is the JSON body of every API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Failed to encode response")
	}
}

// Error sends a standardized JSON error response
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{
		Error:   code,
		Code:    status,
		Message: message,
	})
}
