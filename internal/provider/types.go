package provider

import (
	"context"
	"fmt"
	"time"
)

// Completer issues text completions against a model endpoint.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}

// CompletionRequest is a single raw-prompt completion call. A nil
// Temperature takes the configured default; a pointer to 0 asks for greedy
// decoding.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }

// StreamChunk is one server-sent fragment of a streamed completion. A chunk
// with Err set is the last one: the stream broke before it finished.
type StreamChunk struct {
	Text         string `json:"text,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
	Err          error  `json:"-"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes an available model.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Config holds the completion endpoint settings.
type Config struct {
	Endpoint    string        `json:"endpoint"`
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Stream      bool          `json:"stream"`
}

// RequestError is any failure talking to the completion endpoint: transport
// errors, timeouts, non-2xx statuses and undecodable bodies. A turn that
// hits one fails as a whole; nothing is retried.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model request %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model request %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
