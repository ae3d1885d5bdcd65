package conversation

import (
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"c4chat/internal/storage"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrForbidden is returned when a user touches a thread they do not own
var ErrForbidden = errors.New("user does not own this thread")

// ThreadListLimit caps the number of threads returned per pinned group
const ThreadListLimit = 100

// ThreadUpdate holds the optional fields of a thread patch
type ThreadUpdate struct {
	Title  *string
	Pinned *bool
}

// ConversationService handles the business logic for thread management
type ConversationService struct {
	db    db.Database
	blobs storage.BlobStore
}

// NewConversationService creates a new ConversationService
func NewConversationService(database db.Database, blobs storage.BlobStore) *ConversationService {
	return &ConversationService{
		db:    database,
		blobs: blobs,
	}
}

// CreateThread starts an empty thread titled with the default placeholder
func (s *ConversationService) CreateThread(ctx context.Context, userID string) (*db.Thread, error) {
	thread, err := s.db.CreateThread(ctx, userID, db.DefaultThreadTitle)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	logger.Log.WithFields(logrus.Fields{"thread_id": thread.ID, "user_id": userID}).Info("Thread created")
	return thread, nil
}

// ListThreads returns the user's pinned or unpinned threads, most recent first
func (s *ConversationService) ListThreads(ctx context.Context, userID string, pinned bool) ([]db.Thread, error) {
	threads, err := s.db.GetThreadsByUser(ctx, userID, pinned, ThreadListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve threads: %w", err)
	}
	return threads, nil
}

// OwnedThread loads a thread and verifies userID owns it
func (s *ConversationService) OwnedThread(ctx context.Context, userID, threadID string) (*db.Thread, error) {
	thread, err := s.db.GetThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread not found: %w", err)
	}
	if thread.UserID != userID {
		return nil, ErrForbidden
	}
	return thread, nil
}

// UpdateThread renames and/or pins a thread the user owns
func (s *ConversationService) UpdateThread(ctx context.Context, userID, threadID string, update ThreadUpdate) (*db.Thread, error) {
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			title = db.DefaultThreadTitle
		}
		if err := s.db.SetThreadTitle(ctx, threadID, title); err != nil {
			return nil, fmt.Errorf("failed to rename thread: %w", err)
		}
	}
	if update.Pinned != nil {
		if err := s.db.SetThreadPinned(ctx, threadID, *update.Pinned); err != nil {
			return nil, fmt.Errorf("failed to pin thread: %w", err)
		}
	}
	return s.db.GetThread(ctx, threadID)
}

// SetTitle stores a generated title without an ownership check
func (s *ConversationService) SetTitle(ctx context.Context, threadID, title string) error {
	if err := s.db.SetThreadTitle(ctx, threadID, title); err != nil {
		return fmt.Errorf("failed to set thread title: %w", err)
	}
	return nil
}

// GetThreadMessages retrieves all messages of a thread in creation order
func (s *ConversationService) GetThreadMessages(ctx context.Context, userID, threadID string) ([]db.Message, error) {
	if _, err := s.OwnedThread(ctx, userID, threadID); err != nil {
		return nil, err
	}
	messages, err := s.db.GetThreadMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}
	return messages, nil
}

// DeleteThread removes a thread, its messages and every attachment blob they
// reference. A generating thread is rejected with db.ErrThreadGenerating.
func (s *ConversationService) DeleteThread(ctx context.Context, userID, threadID string) error {
	thread, err := s.OwnedThread(ctx, userID, threadID)
	if err != nil {
		return err
	}
	if thread.Generating {
		return db.ErrThreadGenerating
	}

	attachments, err := s.db.DeleteThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}

	keys := make([]string, 0, len(attachments))
	for _, att := range attachments {
		keys = append(keys, att.ID)
	}
	if err := storage.DeleteAll(ctx, s.blobs, keys); err != nil {
		logger.Log.WithError(err).WithField("thread_id", threadID).Warn("Failed to delete some attachment blobs")
	}

	logger.Log.WithFields(logrus.Fields{
		"thread_id":   threadID,
		"attachments": len(keys),
	}).Info("Thread deleted")
	return nil
}
