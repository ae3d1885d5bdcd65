package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFileType is returned for uploads outside the attachment allowlist
var ErrUnsupportedFileType = errors.New("unsupported file type")

// AllowedAttachmentTypes are the content types accepted for upload
var AllowedAttachmentTypes = []string{"image/png", "image/jpeg", "application/pdf"}

// PostMessageRequest is the body of POST /postMessage
type PostMessageRequest struct {
	ThreadID    string `json:"threadId" validate:"required"`
	UserMessage string `json:"userMessage" validate:"required"`
	Model       string `json:"model" validate:"required"`
	Reasoning   string `json:"reasoning" validate:"omitempty,oneof=default low medium high"`
	Search      bool   `json:"search"`
}

// ThreadUpdateRequest is the body of PATCH /api/threads/{id}
type ThreadUpdateRequest struct {
	Title  *string `json:"title" validate:"omitnil,max=200"`
	Pinned *bool   `json:"pinned"`
}

// OpenRouterKeyRequest is the body of PUT /api/me/openrouter-key. An empty
// key clears the stored one.
type OpenRouterKeyRequest struct {
	Key string `json:"key" validate:"omitempty,startswith=sk-or-,max=256"`
}

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidatePostMessage validates a message send and fills in the default reasoning effort
func (v *ChatRequestValidator) ValidatePostMessage(req *PostMessageRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return errors.New("userMessage cannot be blank")
	}
	if req.Reasoning == "" {
		req.Reasoning = "default"
	}
	return nil
}

// ValidateThreadUpdate validates a thread patch
func (v *ChatRequestValidator) ValidateThreadUpdate(req *ThreadUpdateRequest) error {
	if req.Title == nil && req.Pinned == nil {
		return errors.New("title or pinned is required")
	}
	return validateStruct(req)
}

// ValidateOpenRouterKey validates a user-supplied upstream key
func (v *ChatRequestValidator) ValidateOpenRouterKey(req *OpenRouterKeyRequest) error {
	req.Key = strings.TrimSpace(req.Key)
	return validateStruct(req)
}

// ValidateAttachmentType checks an upload's content type against the allowlist
func (v *ChatRequestValidator) ValidateAttachmentType(contentType string) error {
	for _, allowed := range AllowedAttachmentTypes {
		if contentType == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFileType, contentType)
}
