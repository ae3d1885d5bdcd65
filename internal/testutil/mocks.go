package testutil

import (
	"c4chat/internal/app"
	"c4chat/internal/cache"
	"c4chat/internal/config"
	"c4chat/internal/repository/db"
	"c4chat/internal/service/llm"
	"c4chat/internal/storage"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// TestJWTSecret is long enough to pass config validation
const TestJWTSecret = "test-secret-key-that-is-at-least-32-characters"

// MockRelay is a mock implementation of llm.Relay for testing
type MockRelay struct {
	StreamCompletionFunc func(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error)

	mu       sync.Mutex
	requests []llm.ChatRequest
	keys     []string
}

func (m *MockRelay) StreamCompletion(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.keys = append(m.keys, apiKey)
	m.mu.Unlock()
	if m.StreamCompletionFunc != nil {
		return m.StreamCompletionFunc(ctx, req, apiKey, sink, onProgress)
	}
	return nil, errors.New("not implemented")
}

// Requests returns every request the relay received
func (m *MockRelay) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}

// Keys returns the API key of every call, in order
func (m *MockRelay) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

// StreamTokens returns a relay function that emits tokens one by one,
// waiting interval between them, and honors abort like the real relay
func StreamTokens(interval time.Duration, tokens ...string) func(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error) {
	return func(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error) {
		state := llm.Completion{}
		aborted := false
		abort := func() { aborted = true }
		for i, token := range tokens {
			if i > 0 && interval > 0 {
				select {
				case <-ctx.Done():
					return &state, nil
				case <-time.After(interval):
				}
			}
			state.Text += token
			_, _ = io.WriteString(sink, token)
			if onProgress != nil {
				onProgress(state, abort)
			}
			if aborted {
				return &state, nil
			}
		}
		return &state, nil
	}
}

// MockTitler is a mock implementation of llm.Titler for testing
type MockTitler struct {
	GenerateTitleFunc func(ctx context.Context, userMessage string) (string, error)
}

func (m *MockTitler) GenerateTitle(ctx context.Context, userMessage string) (string, error) {
	if m.GenerateTitleFunc != nil {
		return m.GenerateTitleFunc(ctx, userMessage)
	}
	return "", errors.New("not implemented")
}

// MemoryBlobStore is an in-memory storage.BlobStore
type MemoryBlobStore struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	types     map[string]string
	DeleteErr error
	PutErr    error
}

// NewMemoryBlobStore creates an empty blob store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (s *MemoryBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	s.types[key] = contentType
	return nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return data, nil
}

func (s *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	delete(s.types, key)
	return nil
}

func (s *MemoryBlobStore) URL(ctx context.Context, key string) (string, error) {
	return "https://blobs.test/" + key, nil
}

// Has reports whether key is stored
func (s *MemoryBlobStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[key]
	return ok
}

// Len returns the number of stored blobs
func (s *MemoryBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// NewMockModelsConfig returns the free and premium models used across tests
func NewMockModelsConfig() *config.ModelsConfig {
	return config.NewModelsConfigFromList([]config.Model{
		{ID: "google/gemini-2.0-flash-001", Name: "Google: Gemini 2.0 Flash", Provider: "Google", Tier: config.TierFree},
		{ID: "openai/gpt-4o-mini", Name: "OpenAI: GPT-4o-mini", Provider: "OpenAI", Tier: config.TierFree},
		{ID: "anthropic/claude-sonnet-4", Name: "Anthropic: Claude Sonnet 4", Provider: "Anthropic", Tier: config.TierPremium},
	})
}

// NewMockAppConfig returns configuration with production defaults and test secrets
func NewMockAppConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{Port: "0", ClientOrigin: "*", RateLimit: "1000-M"},
		LLM: config.LLMConfig{
			OpenRouterAPIKey:   "sk-or-server",
			BaseURL:            "http://upstream.test",
			CheckpointInterval: 500 * time.Millisecond,
		},
		Prompts: config.DefaultPromptConfig(),
		Billing: config.BillingConfig{
			FreeRequestsPerPeriod: 25,
			CreditsPerPeriod:      100000,
			CostPerMessage:        100,
			CostPerAttachmentMB:   100,
		},
		Auth: config.AuthConfig{
			JWTSecret:       []byte(TestJWTSecret),
			TokenExpiration: time.Hour,
		},
		Models: NewMockModelsConfig(),
	}
}

// NewMockConfig creates an app.Config over in-memory stores
func NewMockConfig(database *MemoryDB, blobs *MemoryBlobStore) *app.Config {
	return app.NewConfig(database, NewMockAppConfig(), blobs, cache.NewModelCache(database, nil, time.Minute))
}

// SeedUser stores a user holding the full period allowance
func SeedUser(database *MemoryDB, cfg *app.Config, username string) *db.User {
	user := db.User{Username: username, Email: username + "@example.com"}
	cfg.Ledger.InitialGrant(&user)
	return database.AddUser(user)
}
