package db

import "time"

// DefaultThreadTitle is the placeholder a thread keeps until a title is generated
const DefaultThreadTitle = "New Thread"

// CompletionStatus is the terminal outcome of a message
type CompletionStatus string

const (
	StatusCompleted CompletionStatus = "completed"
	StatusStopped   CompletionStatus = "stopped"
	StatusError     CompletionStatus = "error"
)

// Valid reports whether s is one of the terminal statuses
func (s CompletionStatus) Valid() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// Attachment is a stored blob snapshot, either pending on a user or attached to a message
type Attachment struct {
	ID   string `json:"id"` // storage key
	Name string `json:"name"`
	Type string `json:"type"` // mime type
	URL  string `json:"url"`
}

// IsImage reports whether the attachment should be sent as an image part
func (a Attachment) IsImage() bool {
	return len(a.Type) > 6 && a.Type[:6] == "image/"
}

// Annotation is a citation attached to generated text
type Annotation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	Content    string `json:"content,omitempty"`
}

// User represents a user and their billing state
type User struct {
	ID                       string
	Username                 string
	Email                    string
	PasswordHash             string
	AccountCredits           int64 // hundred-thousandths of a cent
	FreeRequestsLeft         int
	FreeRequestsBillingCycle string
	LastModelUsed            string
	PinnedModels             []string
	UnsentAttachments        []Attachment
	OpenRouterKey            string
	CreatedAt                time.Time
}

// IsPremium reports whether the user supplies their own upstream key
func (u *User) IsPremium() bool {
	return u.OpenRouterKey != ""
}

// Thread represents a conversation
type Thread struct {
	ID           string
	UserID       string
	Title        string
	Pinned       bool
	Generating   bool
	LastModified time.Time
	CreatedAt    time.Time
}

// Message is one user prompt plus the assistant reply generated for it
type Message struct {
	ID               string
	ThreadID         string
	Model            string
	ModelName        string
	UserMessage      string
	Message          string
	Reasoning        string
	Annotations      []Annotation
	Attachments      []Attachment
	Completed        bool
	CompletionStatus *CompletionStatus
	CreatedAt        time.Time
}

// Status returns the terminal status, or "" while the message is generating
func (m *Message) Status() CompletionStatus {
	if m.CompletionStatus == nil {
		return ""
	}
	return *m.CompletionStatus
}

// Creator is the vendor tag of a model
type Creator string

const (
	CreatorOpenAI    Creator = "openai"
	CreatorAnthropic Creator = "anthropic"
	CreatorGoogle    Creator = "google"
	CreatorMeta      Creator = "meta"
	CreatorMistral   Creator = "mistral"
	CreatorXAI       Creator = "xai"
	CreatorDeepSeek  Creator = "deepseek"
	CreatorQwen      Creator = "qwen"
	CreatorUnknown   Creator = "unknown"
)

var creatorPrefixes = map[string]Creator{
	"openai":     CreatorOpenAI,
	"anthropic":  CreatorAnthropic,
	"google":     CreatorGoogle,
	"meta-llama": CreatorMeta,
	"mistralai":  CreatorMistral,
	"x-ai":       CreatorXAI,
	"deepseek":   CreatorDeepSeek,
	"qwen":       CreatorQwen,
}

// CreatorFromModelID derives the vendor tag from the id's "<vendor>/" prefix
func CreatorFromModelID(modelID string) Creator {
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '/' {
			if c, ok := creatorPrefixes[modelID[:i]]; ok {
				return c
			}
			break
		}
	}
	return CreatorUnknown
}

// ModelSummary is the cached, denormalized view of an upstream catalog entry
type ModelSummary struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Creator           Creator `json:"creator"`
	SupportsImages    bool    `json:"supportsImages"`
	SupportsFiles     bool    `json:"supportsFiles"`
	SupportsReasoning bool    `json:"supportsReasoning"`
}

// Checkpoint is what a progress write observed about the message
type Checkpoint struct {
	Exists bool
	Status CompletionStatus // "" while still generating
}
