package llm

import (
	"c4chat/internal/repository/db"
	"encoding/json"
	"fmt"
)

// Role is the speaker of a request message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind discriminates the variants of a ContentPart
type PartKind int

const (
	PartText PartKind = iota
	PartImage
	PartFile
)

func (k PartKind) String() string {
	switch k {
	case PartText:
		return "text"
	case PartImage:
		return "image"
	case PartFile:
		return "file"
	}
	return fmt.Sprintf("PartKind(%d)", int(k))
}

// CacheControl marks a text part as cacheable by the upstream provider
type CacheControl struct {
	Type string `json:"type"`
}

var ephemeral = &CacheControl{Type: "ephemeral"}

// ContentPart is one element of a multipart message. Only the fields of its
// Kind are serialized.
type ContentPart struct {
	Kind PartKind

	// PartText
	Text         string
	CacheControl *CacheControl

	// PartImage
	ImageURL string

	// PartFile
	Filename string
	FileData string
}

// TextPart builds a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart builds an inline image part from a URL or data URI
func ImagePart(url string) ContentPart {
	return ContentPart{Kind: PartImage, ImageURL: url}
}

// FilePart builds a named file part from a data URI
func FilePart(filename, data string) ContentPart {
	return ContentPart{Kind: PartFile, Filename: filename, FileData: data}
}

type textPartJSON struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

type imageURLJSON struct {
	URL string `json:"url"`
}

type imagePartJSON struct {
	Type     string       `json:"type"`
	ImageURL imageURLJSON `json:"image_url"`
}

type fileJSON struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type filePartJSON struct {
	Type string   `json:"type"`
	File fileJSON `json:"file"`
}

// MarshalJSON renders the part in the upstream chat completions format
func (p ContentPart) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PartText:
		return json.Marshal(textPartJSON{Type: "text", Text: p.Text, CacheControl: p.CacheControl})
	case PartImage:
		return json.Marshal(imagePartJSON{Type: "image_url", ImageURL: imageURLJSON{URL: p.ImageURL}})
	case PartFile:
		return json.Marshal(filePartJSON{Type: "file", File: fileJSON{Filename: p.Filename, FileData: p.FileData}})
	default:
		return nil, fmt.Errorf("unknown content part kind %s", p.Kind)
	}
}

// Message is one entry of the request message list. Content is sent as a
// plain string unless Parts is set.
type Message struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

type messageJSON struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// MarshalJSON renders content as a string or as a part array
func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{Role: m.Role, Content: m.Content}
	if m.Parts != nil {
		out.Content = m.Parts
	}
	return json.Marshal(out)
}

// MarkEphemeral converts every message to multipart form and flags each text
// part with an ephemeral cache marker.
func MarkEphemeral(messages []Message) {
	for i := range messages {
		if messages[i].Parts == nil {
			messages[i].Parts = []ContentPart{TextPart(messages[i].Content)}
			messages[i].Content = ""
		}
		for j := range messages[i].Parts {
			if messages[i].Parts[j].Kind == PartText {
				messages[i].Parts[j].CacheControl = ephemeral
			}
		}
	}
}

// ReasoningConfig selects the reasoning effort of models that support it
type ReasoningConfig struct {
	Effort string `json:"effort"`
}

// Plugin enables an upstream plugin such as web search
type Plugin struct {
	ID string `json:"id"`
}

// WebSearchPlugin enables upstream web search results with citations
var WebSearchPlugin = Plugin{ID: "web"}

// ChatRequest is the body of a streaming chat completions call
type ChatRequest struct {
	Model     string           `json:"model"`
	Messages  []Message        `json:"messages"`
	Reasoning *ReasoningConfig `json:"reasoning,omitempty"`
	Plugins   []Plugin         `json:"plugins,omitempty"`
	Stream    bool             `json:"stream"`
}

// Annotation is a citation attached to generated text
type Annotation = db.Annotation

// Completion is the state accumulated from a stream
type Completion struct {
	Text        string
	Reasoning   string
	Annotations []Annotation
}

// ProgressFunc observes accumulated state whenever content or reasoning
// advanced. Calling abort ends the stream cleanly.
type ProgressFunc func(state Completion, abort func())

// UpstreamError is a failed exchange with the completions API
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// streamChunk is the JSON payload of one "data: " line
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content     string           `json:"content"`
			Reasoning   string           `json:"reasoning"`
			Annotations []chunkAnnotation `json:"annotations"`
		} `json:"delta"`
	} `json:"choices"`
}

type chunkAnnotation struct {
	Type        string `json:"type"`
	URLCitation struct {
		URL        string `json:"url"`
		Title      string `json:"title"`
		StartIndex int    `json:"start_index"`
		EndIndex   int    `json:"end_index"`
		Content    string `json:"content"`
	} `json:"url_citation"`
}

func (a chunkAnnotation) normalize() Annotation {
	c := a.URLCitation
	return Annotation{
		URL:        c.URL,
		Title:      c.Title,
		StartIndex: c.StartIndex,
		EndIndex:   c.EndIndex,
		Content:    c.Content,
	}
}
