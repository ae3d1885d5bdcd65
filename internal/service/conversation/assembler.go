package conversation

import (
	"c4chat/internal/config"
	"c4chat/internal/repository/db"
	"c4chat/internal/service/llm"
	"c4chat/internal/storage"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Assembler renders a thread's history into the upstream message format
type Assembler struct {
	db      db.Database
	blobs   storage.BlobStore
	prompts config.PromptConfig
}

// NewAssembler creates an Assembler
func NewAssembler(database db.Database, blobs storage.BlobStore, prompts config.PromptConfig) *Assembler {
	return &Assembler{db: database, blobs: blobs, prompts: prompts}
}

// BuildRequestMessages returns the request messages for generating messageID:
// every message of its thread up to and including it, with system prompts
// injected at the start and wherever the model changes.
func (a *Assembler) BuildRequestMessages(ctx context.Context, messageID string) ([]llm.Message, error) {
	history, err := a.db.GetMessagesUpTo(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread history: %w", err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, db.ErrNotFound)
	}

	out := make([]llm.Message, 0, len(history)*2+1)
	for i, msg := range history {
		switch {
		case i == 0:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: fillModel(a.prompts.SystemPrompt, msg)})
		case msg.Model != history[i-1].Model:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: fillModel(a.prompts.ModelChangePrompt, msg)})
		}

		user, err := a.userEntry(ctx, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, user)

		if msg.Message != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: msg.Message})
		}
	}

	if a.supportsPromptCaching(history[len(history)-1].Model) {
		llm.MarkEphemeral(out)
	}
	return out, nil
}

func (a *Assembler) userEntry(ctx context.Context, msg db.Message) (llm.Message, error) {
	parts := make([]llm.ContentPart, 0, len(msg.Attachments)+1)
	parts = append(parts, llm.TextPart(msg.UserMessage))

	for _, att := range msg.Attachments {
		data, err := a.blobs.Get(ctx, att.ID)
		if err != nil {
			return llm.Message{}, fmt.Errorf("failed to load attachment %s: %w", att.ID, err)
		}
		uri := dataURI(att.Type, data)
		if att.IsImage() {
			parts = append(parts, llm.ImagePart(uri))
		} else {
			parts = append(parts, llm.FilePart(att.Name, uri))
		}
	}

	return llm.Message{Role: llm.RoleUser, Parts: parts}, nil
}

func (a *Assembler) supportsPromptCaching(model string) bool {
	for _, prefix := range a.prompts.PromptCachingModelPrefix {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func fillModel(template string, msg db.Message) string {
	name := msg.ModelName
	if name == "" {
		name = msg.Model
	}
	return strings.ReplaceAll(template, "{model}", name)
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
