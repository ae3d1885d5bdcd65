package llm

import (
	"c4chat/internal/config"
	"c4chat/internal/logger"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// TitleGenerator names threads from their first message using the upstream
// legacy completions endpoint
type TitleGenerator struct {
	client  *openai.Client
	prompts config.PromptConfig
}

// NewTitleGenerator creates a generator authenticated with the server key
func NewTitleGenerator(llmConfig *config.LLMConfig, prompts config.PromptConfig) *TitleGenerator {
	clientConfig := openai.DefaultConfig(llmConfig.OpenRouterAPIKey)
	clientConfig.BaseURL = strings.TrimRight(llmConfig.BaseURL, "/")
	return NewTitleGeneratorWithClient(openai.NewClientWithConfig(clientConfig), prompts)
}

// NewTitleGeneratorWithClient creates a generator around an existing client
func NewTitleGeneratorWithClient(client *openai.Client, prompts config.PromptConfig) *TitleGenerator {
	return &TitleGenerator{client: client, prompts: prompts}
}

// GenerateTitle returns a short title for a thread whose first message is userMessage
func (g *TitleGenerator) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	prompt := g.prompts.TitlePrompt + Truncate(userMessage, g.prompts.TitleMessageCharacters)

	resp, err := g.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:     g.prompts.TitleModel,
		Prompt:    prompt,
		MaxTokens: g.prompts.TitleMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("title completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("title completion returned no choices")
	}

	title := strings.TrimSpace(resp.Choices[0].Text)
	if title == "" {
		return "", errors.New("title completion returned empty text")
	}

	logger.Log.WithFields(logrus.Fields{
		"model":  g.prompts.TitleModel,
		"length": len(title),
	}).Debug("Generated thread title")
	return title, nil
}

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
