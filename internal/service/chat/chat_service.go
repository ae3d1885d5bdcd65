package chat

import (
	"c4chat/internal/app"
	"c4chat/internal/logger"
	"c4chat/internal/metrics"
	"c4chat/internal/repository/db"
	"c4chat/internal/service/conversation"
	"c4chat/internal/service/llm"
	"c4chat/internal/storage"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrModelNotAllowed is returned when a free-tier user picks a premium model
	ErrModelNotAllowed = errors.New("model requires a premium account")
	// ErrForbidden is returned when a user touches another user's thread or message
	ErrForbidden = conversation.ErrForbidden
)

const (
	reasoningDefault = "default"
	titleTimeout     = 30 * time.Second
)

// PostMessageRequest contains all the parameters needed to start a message
type PostMessageRequest struct {
	ThreadID    string
	UserMessage string
	Model       string
	Reasoning   string
	Search      bool
	UserID      string // Extracted from auth context
}

// Generation is a started message waiting to be streamed
type Generation struct {
	Message   *db.Message
	reasoning string
	search    bool
	apiKey    string
	startedAt time.Time
}

// ChatService owns the lifecycle of a message from debit to terminal status
type ChatService struct {
	db        db.Database
	config    *app.Config
	relay     llm.Relay
	titler    llm.Titler
	assembler *conversation.Assembler
	threads   *conversation.ConversationService

	background sync.WaitGroup
}

// NewChatService creates a new ChatService
func NewChatService(database db.Database, config *app.Config, relay llm.Relay, titler llm.Titler) *ChatService {
	return &ChatService{
		db:        database,
		config:    config,
		relay:     relay,
		titler:    titler,
		assembler: conversation.NewAssembler(database, config.Blobs, config.Prompts()),
		threads:   conversation.NewConversationService(database, config.Blobs),
	}
}

// Start debits the user and creates the message in one transaction. Nothing
// is written when any check or the debit fails.
func (s *ChatService) Start(ctx context.Context, req PostMessageRequest) (*Generation, error) {
	user, err := s.db.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	thread, err := s.threads.OwnedThread(ctx, req.UserID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	if !user.IsPremium() && !s.config.ModelsConfig().IsFreeModel(req.Model) {
		metrics.DebitRejections.WithLabelValues("message", "model_not_allowed").Inc()
		return nil, ErrModelNotAllowed
	}

	userMessage := llm.Truncate(req.UserMessage, s.config.Prompts().MaxMessageCharacters)

	msg, err := s.db.StartMessage(ctx, db.StartMessageParams{
		UserID:      req.UserID,
		ThreadID:    thread.ID,
		Model:       req.Model,
		ModelName:   s.modelName(ctx, req.Model),
		UserMessage: userMessage,
	}, s.config.Ledger.MessageCharge(req.Model))
	if err != nil {
		if errors.Is(err, db.ErrInsufficientCredit) {
			metrics.DebitRejections.WithLabelValues("message", "insufficient_credit").Inc()
		}
		return nil, fmt.Errorf("failed to start message: %w", err)
	}

	logger.ForMessage(msg.ID, thread.ID).WithFields(logrus.Fields{
		"user_id":     req.UserID,
		"model":       req.Model,
		"attachments": len(msg.Attachments),
	}).Info("Message started")

	if thread.Title == db.DefaultThreadTitle {
		s.scheduleTitle(thread.ID, userMessage)
	}

	apiKey := user.OpenRouterKey
	if apiKey == "" {
		apiKey = s.config.AppConfig.LLM.OpenRouterAPIKey
	}

	return &Generation{
		Message:   msg,
		reasoning: req.Reasoning,
		search:    req.Search,
		apiKey:    apiKey,
		startedAt: time.Now(),
	}, nil
}

// Run assembles the conversation, streams the completion into sink and
// records the terminal status. Failures end up in the message, not the
// return value; the final record is returned when it still exists.
func (s *ChatService) Run(ctx context.Context, gen *Generation, sink io.Writer) *db.Message {
	msg := gen.Message
	log := logger.ForMessage(msg.ID, msg.ThreadID)

	messages, err := s.assembler.BuildRequestMessages(ctx, msg.ID)
	if err != nil {
		log.WithError(err).Error("Failed to assemble conversation")
		return s.finish(ctx, gen, db.StatusError, llm.Completion{})
	}

	req := llm.ChatRequest{Model: msg.Model, Messages: messages}
	if gen.reasoning != "" && gen.reasoning != reasoningDefault {
		req.Reasoning = &llm.ReasoningConfig{Effort: gen.reasoning}
	}
	if gen.search {
		req.Plugins = []llm.Plugin{llm.WebSearchPlugin}
	}

	cp := newCheckpointer(ctx, s.db, msg.ID, s.config.AppConfig.LLM.CheckpointInterval)
	result, err := s.relay.StreamCompletion(ctx, req, gen.apiKey, sink, cp.onProgress)
	if err != nil {
		s.recordUpstreamError(err)
		log.WithError(err).Error("Generation failed")
		partial := cp.snapshot()
		if result != nil {
			partial = *result
		}
		return s.finish(ctx, gen, db.StatusError, partial)
	}

	return s.finish(ctx, gen, db.StatusCompleted, *result)
}

// finish writes the terminal status. A status set earlier, such as a user
// stop, is kept.
func (s *ChatService) finish(ctx context.Context, gen *Generation, status db.CompletionStatus, state llm.Completion) *db.Message {
	log := logger.ForMessage(gen.Message.ID, gen.Message.ThreadID)

	final, err := s.db.FinalizeMessage(ctx, gen.Message.ID, status, state.Text, state.Reasoning, state.Annotations)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Info("Message deleted before completion")
			return nil
		}
		log.WithError(err).Error("Failed to finalize message")
		return nil
	}

	metrics.Generations.WithLabelValues(string(final.Status())).Inc()
	metrics.GenerationDuration.Observe(time.Since(gen.startedAt).Seconds())
	log.WithFields(logrus.Fields{
		"status":      final.Status(),
		"text_length": len(final.Message),
	}).Info("Message finished")
	return final
}

func (s *ChatService) recordUpstreamError(err error) {
	status := "0"
	var upstreamErr *llm.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode != 0 {
		status = strconv.Itoa(upstreamErr.StatusCode)
	}
	metrics.UpstreamErrors.WithLabelValues(status).Inc()
}

// ownedMessage loads a message and verifies its thread belongs to userID
func (s *ChatService) ownedMessage(ctx context.Context, userID, messageID string) (*db.Message, error) {
	msg, err := s.db.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("message not found: %w", err)
	}
	if _, err := s.threads.OwnedThread(ctx, userID, msg.ThreadID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Stop marks a generating message as stopped. The stream notices at its next
// checkpoint. Stopping a finished message is a no-op.
func (s *ChatService) Stop(ctx context.Context, userID, messageID string) (bool, error) {
	if _, err := s.ownedMessage(ctx, userID, messageID); err != nil {
		return false, err
	}
	stopped, err := s.db.StopMessage(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to stop message: %w", err)
	}
	if stopped {
		logger.Log.WithField("message_id", messageID).Info("Message stopped by user")
	}
	return stopped, nil
}

// DeleteMessage removes a message and its attachment blobs
func (s *ChatService) DeleteMessage(ctx context.Context, userID, messageID string) error {
	if _, err := s.ownedMessage(ctx, userID, messageID); err != nil {
		return err
	}
	deleted, err := s.db.DeleteMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	keys := make([]string, 0, len(deleted.Attachments))
	for _, att := range deleted.Attachments {
		keys = append(keys, att.ID)
	}
	if err := storage.DeleteAll(ctx, s.config.Blobs, keys); err != nil {
		logger.Log.WithError(err).WithField("message_id", messageID).Warn("Failed to delete some attachment blobs")
	}
	return nil
}

// modelName resolves the display name snapshot stored on a message
func (s *ChatService) modelName(ctx context.Context, modelID string) string {
	if name := s.config.ModelsConfig().DisplayName(modelID); name != "" {
		return name
	}
	if s.config.ModelCache != nil {
		if summary, err := s.config.ModelCache.Get(ctx, modelID); err == nil && summary.Name != "" {
			return summary.Name
		}
	}
	return modelID
}

// scheduleTitle names the thread in the background; failures are only logged
func (s *ChatService) scheduleTitle(threadID, userMessage string) {
	if s.titler == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()

		title, err := s.titler.GenerateTitle(ctx, userMessage)
		if err != nil {
			logger.Log.WithError(err).WithField("thread_id", threadID).Warn("Title generation failed")
			return
		}
		if err := s.threads.SetTitle(ctx, threadID, title); err != nil {
			logger.Log.WithError(err).WithField("thread_id", threadID).Warn("Failed to store generated title")
		}
	}()
}

// Wait blocks until background title generation has finished
func (s *ChatService) Wait() {
	s.background.Wait()
}
