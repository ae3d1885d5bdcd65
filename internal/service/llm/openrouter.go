package llm

import (
	"bytes"
	"c4chat/internal/config"
	"c4chat/internal/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
	readSize     = 4096
)

// OpenRouterRelay streams chat completions from an OpenRouter compatible API
type OpenRouterRelay struct {
	baseURL string
	client  *http.Client
}

// NewOpenRouterRelay creates a relay for the configured upstream base URL
func NewOpenRouterRelay(llmConfig *config.LLMConfig) *OpenRouterRelay {
	return NewOpenRouterRelayWithClient(llmConfig.BaseURL, &http.Client{})
}

// NewOpenRouterRelayWithClient creates a relay with a caller-provided HTTP client
func NewOpenRouterRelayWithClient(baseURL string, client *http.Client) *OpenRouterRelay {
	return &OpenRouterRelay{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// StreamCompletion posts req with stream enabled, writes every content token
// to sink as it arrives and returns the accumulated completion. Aborting
// through onProgress ends the call without error. When the stream breaks
// after it started, the partial completion is returned with the error.
func (r *OpenRouterRelay) StreamCompletion(ctx context.Context, req ChatRequest, apiKey string, sink io.Writer, onProgress ProgressFunc) (*Completion, error) {
	if apiKey == "" {
		return nil, &UpstreamError{Err: errors.New("no upstream API key configured")}
	}

	req.Stream = true
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var aborted atomic.Bool
	abort := func() {
		aborted.Store(true)
		cancel()
	}

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(req.Messages),
		"reasoning":     req.Reasoning != nil,
		"plugins":       len(req.Plugins),
	}).Info("Calling OpenRouter API (streaming)")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://c4chat.app")
	httpReq.Header.Set("X-Title", "C4 Chat")

	stream := &streamState{sink: sink, onProgress: onProgress, abort: abort}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		if aborted.Load() {
			return stream.completion(), nil
		}
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	chunk := make([]byte, readSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			stream.buffer = append(stream.buffer, chunk[:n]...)
			stream.processLines()
		}
		if aborted.Load() {
			logger.Log.WithField("model", req.Model).Debug("Stream aborted")
			return stream.completion(), nil
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if aborted.Load() {
				return stream.completion(), nil
			}
			partial := stream.completion()
			return partial, &UpstreamError{Err: readErr}
		}
	}

	logger.Log.WithFields(logrus.Fields{
		"model":           req.Model,
		"text_length":     stream.text.Len(),
		"reasoning_chars": stream.reasoning.Len(),
		"annotations":     len(stream.annotations),
	}).Info("Stream completed")

	return stream.completion(), nil
}

// streamState accumulates one response stream
type streamState struct {
	buffer      []byte
	text        strings.Builder
	reasoning   strings.Builder
	annotations []Annotation

	sink       io.Writer
	onProgress ProgressFunc
	abort      func()
	stopped    bool
}

// processLines consumes every complete line in the buffer. A [DONE] line
// stops processing until more data is read.
func (s *streamState) processLines() {
	for !s.stopped {
		lineEnd := bytes.IndexByte(s.buffer, '\n')
		if lineEnd == -1 {
			return
		}
		line := strings.TrimSpace(string(s.buffer[:lineEnd]))
		s.buffer = s.buffer[lineEnd+1:]

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			logger.Log.WithField("line", line).Debug("Unexpected stream line format")
			continue
		}

		data := line[len(dataPrefix):]
		if data == doneSentinel {
			return
		}

		var parsed streamChunk
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			logger.Log.WithError(err).Debug("Ignoring malformed stream chunk")
			continue
		}
		if len(parsed.Choices) == 0 {
			continue
		}
		s.apply(parsed.Choices[0].Delta.Content, parsed.Choices[0].Delta.Reasoning, parsed.Choices[0].Delta.Annotations)
	}
}

func (s *streamState) stop() {
	s.stopped = true
	s.abort()
}

func (s *streamState) apply(content, reasoning string, annotations []chunkAnnotation) {
	for _, a := range annotations {
		s.annotations = append(s.annotations, a.normalize())
	}
	if content != "" {
		s.text.WriteString(content)
		// the caller may have gone away; accumulation continues regardless
		_, _ = io.WriteString(s.sink, content)
	}
	if reasoning != "" {
		s.reasoning.WriteString(reasoning)
	}
	if (content != "" || reasoning != "") && s.onProgress != nil {
		s.onProgress(*s.completion(), s.stop)
	}
}

func (s *streamState) completion() *Completion {
	var annotations []Annotation
	if len(s.annotations) > 0 {
		annotations = append(annotations, s.annotations...)
	}
	return &Completion{
		Text:        s.text.String(),
		Reasoning:   s.reasoning.String(),
		Annotations: annotations,
	}
}
