package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	conversationService "c4chat/internal/service/conversation"
	"c4chat/pkg/validation"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

type ThreadInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Pinned       bool   `json:"pinned"`
	Generating   bool   `json:"generating"`
	LastModified string `json:"lastModified"`
	CreatedAt    string `json:"createdAt"`
}

type ThreadsResponse struct {
	Threads []ThreadInfo `json:"threads"`
}

type MessageData struct {
	ID               string          `json:"id"`
	ThreadID         string          `json:"threadId"`
	Model            string          `json:"model"`
	ModelName        string          `json:"modelName"`
	UserMessage      string          `json:"userMessage"`
	Message          string          `json:"message"`
	Reasoning        string          `json:"reasoning,omitempty"`
	Annotations      []db.Annotation `json:"annotations"`
	Attachments      []db.Attachment `json:"attachments"`
	Completed        bool            `json:"completed"`
	CompletionStatus *string         `json:"completionStatus"`
	CreatedAt        string          `json:"createdAt"`
}

type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

func toThreadInfo(thread *db.Thread) ThreadInfo {
	return ThreadInfo{
		ID:           thread.ID,
		Title:        thread.Title,
		Pinned:       thread.Pinned,
		Generating:   thread.Generating,
		LastModified: thread.LastModified.Format(time.RFC3339),
		CreatedAt:    thread.CreatedAt.Format(time.RFC3339),
	}
}

func toMessageData(msg *db.Message) MessageData {
	data := MessageData{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		Model:       msg.Model,
		ModelName:   msg.ModelName,
		UserMessage: msg.UserMessage,
		Message:     msg.Message,
		Reasoning:   msg.Reasoning,
		Annotations: msg.Annotations,
		Attachments: msg.Attachments,
		Completed:   msg.Completed,
		CreatedAt:   msg.CreatedAt.Format(time.RFC3339Nano),
	}
	if data.Annotations == nil {
		data.Annotations = []db.Annotation{}
	}
	if data.Attachments == nil {
		data.Attachments = []db.Attachment{}
	}
	if msg.CompletionStatus != nil {
		status := string(*msg.CompletionStatus)
		data.CompletionStatus = &status
	}
	return data
}

// CreateThreadHandler creates an empty thread for the authenticated user
func (ch *ChatHandlers) CreateThreadHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	thread, err := ch.conversationService.CreateThread(r.Context(), userID)
	if err != nil {
		sendServiceError(w, err, "Error creating thread")
		return
	}

	respond.JSON(w, http.StatusCreated, toThreadInfo(thread))
}

// GetThreadsHandler lists the user's threads; ?pinned=true selects pinned ones
func (ch *ChatHandlers) GetThreadsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)

	pinned := false
	if raw := r.URL.Query().Get("pinned"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "pinned must be true or false")
			return
		}
		pinned = parsed
	}

	threads, err := ch.conversationService.ListThreads(r.Context(), userID, pinned)
	if err != nil {
		sendServiceError(w, err, "Error retrieving threads")
		return
	}

	infos := make([]ThreadInfo, 0, len(threads))
	for i := range threads {
		infos = append(infos, toThreadInfo(&threads[i]))
	}
	respond.JSON(w, http.StatusOK, ThreadsResponse{Threads: infos})
}

// UpdateThreadHandler renames or pins a thread
func (ch *ChatHandlers) UpdateThreadHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	threadID := r.PathValue("id")

	var req validation.ThreadUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := ch.validator.ValidateThreadUpdate(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, respond.CodeInvalidRequest, err.Error())
		return
	}

	thread, err := ch.conversationService.UpdateThread(r.Context(), userID, threadID, conversationService.ThreadUpdate{
		Title:  req.Title,
		Pinned: req.Pinned,
	})
	if err != nil {
		sendServiceError(w, err, "Error updating thread")
		return
	}

	respond.JSON(w, http.StatusOK, toThreadInfo(thread))
}

// DeleteThreadHandler deletes a thread with its messages and attachments
func (ch *ChatHandlers) DeleteThreadHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	threadID := r.PathValue("id")
	logger.Log.WithFields(logrus.Fields{"user_id": userID, "thread_id": threadID}).Info("Delete thread request")

	if err := ch.conversationService.DeleteThread(r.Context(), userID, threadID); err != nil {
		sendServiceError(w, err, "Error deleting thread")
		return
	}

	respond.JSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Thread deleted successfully",
	})
}

// GetThreadMessagesHandler returns every message of a thread in creation order
func (ch *ChatHandlers) GetThreadMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	threadID := r.PathValue("id")

	messages, err := ch.conversationService.GetThreadMessages(r.Context(), userID, threadID)
	if err != nil {
		sendServiceError(w, err, "Error retrieving messages")
		return
	}

	data := make([]MessageData, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageData(&messages[i]))
	}
	respond.JSON(w, http.StatusOK, MessagesResponse{Messages: data})
}
