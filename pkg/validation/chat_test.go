package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestChatRequestValidator_ValidatePostMessage(t *testing.T) {
	validator := NewChatRequestValidator()

	valid := func() PostMessageRequest {
		return PostMessageRequest{
			ThreadID:    "thread-1",
			UserMessage: "Hello, world!",
			Model:       "openai/gpt-4o-mini",
			Reasoning:   "medium",
			Search:      true,
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *PostMessageRequest)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid request",
			mutate:  func(r *PostMessageRequest) {},
			wantErr: false,
		},
		{
			name:    "reasoning omitted",
			mutate:  func(r *PostMessageRequest) { r.Reasoning = "" },
			wantErr: false,
		},
		{
			name:    "missing thread",
			mutate:  func(r *PostMessageRequest) { r.ThreadID = "" },
			wantErr: true,
			errMsg:  "threadId is required",
		},
		{
			name:    "missing message",
			mutate:  func(r *PostMessageRequest) { r.UserMessage = "" },
			wantErr: true,
			errMsg:  "userMessage is required",
		},
		{
			name:    "blank message",
			mutate:  func(r *PostMessageRequest) { r.UserMessage = "  \n\t" },
			wantErr: true,
			errMsg:  "userMessage cannot be blank",
		},
		{
			name:    "missing model",
			mutate:  func(r *PostMessageRequest) { r.Model = "" },
			wantErr: true,
			errMsg:  "model is required",
		},
		{
			name:    "unknown reasoning effort",
			mutate:  func(r *PostMessageRequest) { r.Reasoning = "extreme" },
			wantErr: true,
			errMsg:  "reasoning must be one of: default, low, medium, high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := validator.ValidatePostMessage(&req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePostMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && err.Error() != tt.errMsg {
				t.Errorf("ValidatePostMessage() error message = %v, want %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestChatRequestValidator_DefaultsReasoning(t *testing.T) {
	req := PostMessageRequest{ThreadID: "t", UserMessage: "hi", Model: "m"}

	if err := NewChatRequestValidator().ValidatePostMessage(&req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Reasoning != "default" {
		t.Errorf("Reasoning = %q, want default", req.Reasoning)
	}
}

func TestChatRequestValidator_ValidateThreadUpdate(t *testing.T) {
	validator := NewChatRequestValidator()
	title := "Trip"
	long := strings.Repeat("x", 201)
	pinned := true

	tests := []struct {
		name    string
		req     ThreadUpdateRequest
		wantErr bool
	}{
		{name: "title only", req: ThreadUpdateRequest{Title: &title}},
		{name: "pinned only", req: ThreadUpdateRequest{Pinned: &pinned}},
		{name: "empty patch", req: ThreadUpdateRequest{}, wantErr: true},
		{name: "title too long", req: ThreadUpdateRequest{Title: &long}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateThreadUpdate(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateThreadUpdate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRequestValidator_ValidateOpenRouterKey(t *testing.T) {
	validator := NewChatRequestValidator()

	tests := []struct {
		name    string
		key     string
		wantKey string
		wantErr bool
	}{
		{name: "valid key", key: "sk-or-v1-abc", wantKey: "sk-or-v1-abc"},
		{name: "surrounding whitespace", key: "  sk-or-v1-abc\n", wantKey: "sk-or-v1-abc"},
		{name: "empty clears", key: "", wantKey: ""},
		{name: "wrong prefix", key: "sk-proj-123", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := OpenRouterKeyRequest{Key: tt.key}
			err := validator.ValidateOpenRouterKey(&req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOpenRouterKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && req.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", req.Key, tt.wantKey)
			}
		})
	}
}

func TestChatRequestValidator_ValidateAttachmentType(t *testing.T) {
	validator := NewChatRequestValidator()

	for _, contentType := range AllowedAttachmentTypes {
		if err := validator.ValidateAttachmentType(contentType); err != nil {
			t.Errorf("ValidateAttachmentType(%q) unexpected error: %v", contentType, err)
		}
	}

	for _, contentType := range []string{"", "image/gif", "text/html", "application/pdf; charset=binary"} {
		err := validator.ValidateAttachmentType(contentType)
		if !errors.Is(err, ErrUnsupportedFileType) {
			t.Errorf("ValidateAttachmentType(%q) = %v, want ErrUnsupportedFileType", contentType, err)
		}
	}
}
