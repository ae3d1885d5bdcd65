package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/app"
	"c4chat/internal/auth"
	"c4chat/internal/logger"
	"c4chat/internal/metrics"
	chatService "c4chat/internal/service/chat"
	conversationService "c4chat/internal/service/conversation"
	"c4chat/pkg/validation"
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// MessageIDHeader carries the id of the message a /postMessage stream belongs to
const MessageIDHeader = "X-Message-Id"

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ChatHandlers uses the service layer for better separation of concerns
type ChatHandlers struct {
	config              *app.Config
	validator           *validation.ChatRequestValidator
	chatService         *chatService.ChatService
	conversationService *conversationService.ConversationService
}

// NewChatHandlers creates a new ChatHandlers over an existing chat service
func NewChatHandlers(config *app.Config, chat *chatService.ChatService) *ChatHandlers {
	return &ChatHandlers{
		config:              config,
		validator:           validation.NewChatRequestValidator(),
		chatService:         chat,
		conversationService: conversationService.NewConversationService(config.DB, config.Blobs),
	}
}

// PostMessageHandler starts a message and streams the assistant text back as
// plain text. Failures after the stream began are recorded on the message;
// the response status is already 200 by then.
func (ch *ChatHandlers) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	var req validation.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := ch.validator.ValidatePostMessage(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, err.Error())
		return
	}

	gen, err := ch.chatService.Start(r.Context(), chatService.PostMessageRequest{
		ThreadID:    req.ThreadID,
		UserMessage: req.UserMessage,
		Model:       req.Model,
		Reasoning:   req.Reasoning,
		Search:      req.Search,
		UserID:      userID,
	})
	if err != nil {
		sendServiceError(w, err, "Error starting message")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set(MessageIDHeader, gen.Message.ID)
	w.WriteHeader(http.StatusOK)

	sink := newStreamWriter(w)
	sink.flush()

	// generation outlives the client connection
	final := ch.chatService.Run(context.WithoutCancel(r.Context()), gen, sink)

	log := logger.ForMessage(gen.Message.ID, gen.Message.ThreadID).WithField("streamed_bytes", sink.written)
	if sink.disconnected {
		log = log.WithField("client_disconnected", true)
	}
	if final != nil {
		log = log.WithField("status", final.Status())
	}
	log.Debug("Stream closed")
}

// StopMessageHandler requests a stop of a generating message
func (ch *ChatHandlers) StopMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	messageID := r.PathValue("id")

	stopped, err := ch.chatService.Stop(r.Context(), userID, messageID)
	if err != nil {
		sendServiceError(w, err, "Error stopping message")
		return
	}

	respond.JSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// DeleteMessageHandler deletes a message and its attachments
func (ch *ChatHandlers) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	messageID := r.PathValue("id")
	logger.Log.WithFields(logrus.Fields{"user_id": userID, "message_id": messageID}).Info("Delete message request")

	if err := ch.chatService.DeleteMessage(r.Context(), userID, messageID); err != nil {
		sendServiceError(w, err, "Error deleting message")
		return
	}

	respond.JSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Message deleted successfully",
	})
}

// streamWriter forwards content to the client and flushes after every write.
// Once the client is gone further writes are dropped so the generation can
// run to completion.
type streamWriter struct {
	w            http.ResponseWriter
	flusher      http.Flusher
	written      int
	disconnected bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if s.disconnected {
		return len(p), nil
	}
	n, err := s.w.Write(p)
	s.written += n
	metrics.StreamedBytes.Add(float64(n))
	if err != nil {
		s.disconnected = true
		return len(p), nil
	}
	s.flush()
	return len(p), nil
}

func (s *streamWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// userIDFromRequest returns the id the auth middleware put on the context
func userIDFromRequest(r *http.Request) string {
	userID, _ := auth.UserIDFromContext(r.Context())
	return userID
}
