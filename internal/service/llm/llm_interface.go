package llm

import (
	"context"
	"io"
)

// Relay defines the interface for streaming completion backends
type Relay interface {
	// StreamCompletion streams req, forwarding content tokens to sink and
	// reporting accumulated state to onProgress
	StreamCompletion(ctx context.Context, req ChatRequest, apiKey string, sink io.Writer, onProgress ProgressFunc) (*Completion, error)
}

// Titler defines the interface for thread title generation
type Titler interface {
	GenerateTitle(ctx context.Context, userMessage string) (string, error)
}

var (
	_ Relay  = (*OpenRouterRelay)(nil)
	_ Titler = (*TitleGenerator)(nil)
)
