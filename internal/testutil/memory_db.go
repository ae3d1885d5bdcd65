package testutil

import (
	"c4chat/internal/repository/db"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDB is an in-memory db.Database. Each method runs under one mutex,
// which gives it the same atomicity as the Postgres transactions.
type MemoryDB struct {
	mu       sync.Mutex
	seq      int
	clock    time.Time
	users    map[string]*db.User
	threads  map[string]*db.Thread
	messages map[string]*db.Message
	models   []db.ModelSummary

	// CheckpointErr, when set, is returned by CheckpointMessage instead of writing
	CheckpointErr error
	// CheckpointWrites counts successful checkpoint writes
	CheckpointWrites int
	// OnCheckpoint runs before every checkpoint, outside the lock
	OnCheckpoint func(id string)
}

// NewMemoryDB creates an empty store
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		clock:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		users:    make(map[string]*db.User),
		threads:  make(map[string]*db.Thread),
		messages: make(map[string]*db.Message),
	}
}

// tick returns a strictly increasing timestamp and a fresh id with prefix
func (m *MemoryDB) tick(prefix string) (string, time.Time) {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq), m.clock.Add(time.Duration(m.seq) * time.Millisecond)
}

// SetModelSummaries replaces the model catalog
func (m *MemoryDB) SetModelSummaries(models []db.ModelSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = append([]db.ModelSummary(nil), models...)
}

// AddUser stores a copy of user, assigning an id when empty
func (m *MemoryDB) AddUser(user db.User) *db.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, created := m.tick("user")
	if user.ID == "" {
		user.ID = id
	}
	user.CreatedAt = created
	m.users[user.ID] = copyUser(&user)
	return copyUser(&user)
}

// IncompleteMessages counts messages of thread still generating
func (m *MemoryDB) IncompleteMessages(threadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incomplete(threadID)
}

// MessageCount returns the number of stored messages
func (m *MemoryDB) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func copyUser(u *db.User) *db.User {
	c := *u
	c.PinnedModels = append([]string(nil), u.PinnedModels...)
	c.UnsentAttachments = append([]db.Attachment(nil), u.UnsentAttachments...)
	return &c
}

func copyMessage(msg *db.Message) *db.Message {
	c := *msg
	c.Annotations = append([]db.Annotation(nil), msg.Annotations...)
	c.Attachments = append([]db.Attachment(nil), msg.Attachments...)
	if msg.CompletionStatus != nil {
		status := *msg.CompletionStatus
		c.CompletionStatus = &status
	}
	return &c
}

func (m *MemoryDB) incomplete(threadID string) int {
	n := 0
	for _, msg := range m.messages {
		if msg.ThreadID == threadID && !msg.Completed {
			n++
		}
	}
	return n
}

func (m *MemoryDB) refreshGenerating(threadID string) {
	if thread, ok := m.threads[threadID]; ok {
		thread.Generating = m.incomplete(threadID) > 0
	}
}

func (m *MemoryDB) threadMessages(threadID string) []*db.Message {
	var out []*db.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Users

func (m *MemoryDB) GetUser(ctx context.Context, id string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyUser(user), nil
}

func (m *MemoryDB) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return copyUser(user), nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *MemoryDB) CreateUser(ctx context.Context, user *db.User) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == user.Username || (user.Email != "" && existing.Email == user.Email) {
			return nil, db.ErrAlreadyExists
		}
	}
	created := copyUser(user)
	created.ID, created.CreatedAt = m.tick("user")
	m.users[created.ID] = created
	return copyUser(created), nil
}

func (m *MemoryDB) UpdateOpenRouterKey(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return db.ErrNotFound
	}
	user.OpenRouterKey = key
	return nil
}

func (m *MemoryDB) ChargeUser(ctx context.Context, userID string, charge db.ChargeFunc) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	working := copyUser(user)
	if err := charge(working); err != nil {
		return nil, err
	}
	m.users[userID] = working
	return copyUser(working), nil
}

func (m *MemoryDB) AddUnsentAttachment(ctx context.Context, userID string, charge db.ChargeFunc, attachment db.Attachment) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	working := copyUser(user)
	if err := charge(working); err != nil {
		return nil, err
	}
	working.UnsentAttachments = append(working.UnsentAttachments, attachment)
	m.users[userID] = working
	return copyUser(working), nil
}

func (m *MemoryDB) RemoveUnsentAttachment(ctx context.Context, userID, attachmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return false, db.ErrNotFound
	}
	for i, att := range user.UnsentAttachments {
		if att.ID == attachmentID {
			user.UnsentAttachments = append(user.UnsentAttachments[:i:i], user.UnsentAttachments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Threads

func (m *MemoryDB) CreateThread(ctx context.Context, userID, title string) (*db.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, db.ErrNotFound
	}
	id, now := m.tick("thread")
	thread := &db.Thread{ID: id, UserID: userID, Title: title, LastModified: now, CreatedAt: now}
	m.threads[id] = thread
	c := *thread
	return &c, nil
}

func (m *MemoryDB) GetThread(ctx context.Context, id string) (*db.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *thread
	return &c, nil
}

func (m *MemoryDB) GetThreadsByUser(ctx context.Context, userID string, pinned bool, limit int) ([]db.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Thread
	for _, thread := range m.threads {
		if thread.UserID == userID && thread.Pinned == pinned {
			out = append(out, *thread)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.After(out[j].LastModified) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDB) SetThreadTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[id]
	if !ok {
		return db.ErrNotFound
	}
	thread.Title = title
	return nil
}

func (m *MemoryDB) SetThreadPinned(ctx context.Context, id string, pinned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[id]
	if !ok {
		return db.ErrNotFound
	}
	thread.Pinned = pinned
	return nil
}

func (m *MemoryDB) DeleteThread(ctx context.Context, id string) ([]db.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if thread.Generating {
		return nil, db.ErrThreadGenerating
	}
	var attachments []db.Attachment
	for _, msg := range m.threadMessages(id) {
		attachments = append(attachments, msg.Attachments...)
		delete(m.messages, msg.ID)
	}
	delete(m.threads, id)
	return attachments, nil
}

// Messages

func (m *MemoryDB) StartMessage(ctx context.Context, params db.StartMessageParams, charge db.ChargeFunc) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[params.UserID]
	if !ok {
		return nil, db.ErrNotFound
	}
	thread, ok := m.threads[params.ThreadID]
	if !ok || thread.UserID != params.UserID {
		return nil, db.ErrNotFound
	}
	if m.incomplete(thread.ID) > 0 {
		return nil, db.ErrThreadGenerating
	}

	working := copyUser(user)
	if err := charge(working); err != nil {
		return nil, err
	}

	id, now := m.tick("message")
	msg := &db.Message{
		ID:          id,
		ThreadID:    thread.ID,
		Model:       params.Model,
		ModelName:   params.ModelName,
		UserMessage: params.UserMessage,
		Attachments: working.UnsentAttachments,
		CreatedAt:   now,
	}
	working.UnsentAttachments = nil

	m.users[user.ID] = working
	m.messages[id] = msg
	thread.Generating = true
	thread.LastModified = now
	return copyMessage(msg), nil
}

func (m *MemoryDB) GetMessage(ctx context.Context, id string) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyMessage(msg), nil
}

func (m *MemoryDB) GetThreadMessages(ctx context.Context, threadID string) ([]db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Message
	for _, msg := range m.threadMessages(threadID) {
		out = append(out, *copyMessage(msg))
	}
	return out, nil
}

func (m *MemoryDB) GetMessagesUpTo(ctx context.Context, messageID string) ([]db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.messages[messageID]
	if !ok {
		return nil, db.ErrNotFound
	}
	var out []db.Message
	for _, msg := range m.threadMessages(target.ThreadID) {
		if msg.CreatedAt.After(target.CreatedAt) {
			break
		}
		out = append(out, *copyMessage(msg))
		if msg.ID == target.ID {
			break
		}
	}
	return out, nil
}

func (m *MemoryDB) CheckpointMessage(ctx context.Context, id, text, reasoning string) (*db.Checkpoint, error) {
	if m.OnCheckpoint != nil {
		m.OnCheckpoint(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckpointErr != nil {
		return nil, m.CheckpointErr
	}
	msg, ok := m.messages[id]
	if !ok {
		return &db.Checkpoint{Exists: false}, nil
	}
	if msg.Completed {
		return &db.Checkpoint{Exists: true, Status: msg.Status()}, nil
	}
	msg.Message = text
	msg.Reasoning = reasoning
	m.CheckpointWrites++
	return &db.Checkpoint{Exists: true}, nil
}

func (m *MemoryDB) FinalizeMessage(ctx context.Context, id string, status db.CompletionStatus, text, reasoning string, annotations []db.Annotation) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if msg.CompletionStatus == nil {
		s := status
		msg.CompletionStatus = &s
	}
	msg.Completed = true
	msg.Message = text
	msg.Reasoning = reasoning
	msg.Annotations = append([]db.Annotation(nil), annotations...)
	m.refreshGenerating(msg.ThreadID)
	return copyMessage(msg), nil
}

func (m *MemoryDB) StopMessage(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, db.ErrNotFound
	}
	if msg.Completed {
		return false, nil
	}
	stopped := db.StatusStopped
	msg.Completed = true
	msg.CompletionStatus = &stopped
	m.refreshGenerating(msg.ThreadID)
	return true, nil
}

func (m *MemoryDB) DeleteMessage(ctx context.Context, id string) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	delete(m.messages, id)
	m.refreshGenerating(msg.ThreadID)
	return copyMessage(msg), nil
}

// Models

func (m *MemoryDB) ListModelSummaries(ctx context.Context) ([]db.ModelSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.ModelSummary(nil), m.models...), nil
}

func (m *MemoryDB) GetModelSummary(ctx context.Context, id string) (*db.ModelSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.models {
		if m.models[i].ID == id {
			c := m.models[i]
			return &c, nil
		}
	}
	return nil, db.ErrNotFound
}

var _ db.Database = (*MemoryDB)(nil)
