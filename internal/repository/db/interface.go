package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique username or email is taken
	ErrAlreadyExists = errors.New("already exists")
	// ErrInsufficientCredit is returned when a debit would exceed the user's quota
	ErrInsufficientCredit = errors.New("insufficient credits or requests")
	// ErrPremiumRequired is returned for costs only premium users may incur
	ErrPremiumRequired = errors.New("premium account required")
	// ErrThreadGenerating is returned when a thread already has an incomplete message
	ErrThreadGenerating = errors.New("thread is currently generating")
)

// ChargeFunc mutates a user record under the store's row lock. Returning an
// error aborts the surrounding transaction with no field changed.
type ChargeFunc func(user *User) error

// StartMessageParams describes the message row created by StartMessage
type StartMessageParams struct {
	UserID      string
	ThreadID    string
	Model       string
	ModelName   string
	UserMessage string
}

// Database defines the interface for all persistence operations
// This allows for easier testing through mocking and decouples the services from the specific database implementation
type Database interface {
	// Users
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	UpdateOpenRouterKey(ctx context.Context, userID, key string) error
	ChargeUser(ctx context.Context, userID string, charge ChargeFunc) (*User, error)
	AddUnsentAttachment(ctx context.Context, userID string, charge ChargeFunc, attachment Attachment) (*User, error)
	RemoveUnsentAttachment(ctx context.Context, userID, attachmentID string) (bool, error)

	// Threads
	CreateThread(ctx context.Context, userID, title string) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)
	GetThreadsByUser(ctx context.Context, userID string, pinned bool, limit int) ([]Thread, error)
	SetThreadTitle(ctx context.Context, id, title string) error
	SetThreadPinned(ctx context.Context, id string, pinned bool) error
	DeleteThread(ctx context.Context, id string) ([]Attachment, error)

	// Messages
	StartMessage(ctx context.Context, params StartMessageParams, charge ChargeFunc) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetThreadMessages(ctx context.Context, threadID string) ([]Message, error)
	GetMessagesUpTo(ctx context.Context, messageID string) ([]Message, error)
	CheckpointMessage(ctx context.Context, id, text, reasoning string) (*Checkpoint, error)
	FinalizeMessage(ctx context.Context, id string, status CompletionStatus, text, reasoning string, annotations []Annotation) (*Message, error)
	StopMessage(ctx context.Context, id string) (bool, error)
	DeleteMessage(ctx context.Context, id string) (*Message, error)

	// Models
	ListModelSummaries(ctx context.Context) ([]ModelSummary, error)
	GetModelSummary(ctx context.Context, id string) (*ModelSummary, error)
}
