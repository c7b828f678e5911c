package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults for the completion endpoint.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
)

// DefaultStop ends generation at the close of the model turn.
var DefaultStop = []string{"<end_of_turn>"}

// CompletionProvider talks to an OpenAI-compatible /completions endpoint.
type CompletionProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewCompletionProvider creates a completion client.
func NewCompletionProvider(cfg Config, logger *zap.Logger) *CompletionProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:5000/v1"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == nil {
		cfg.Temperature = Float64(DefaultTemperature)
	}
	if len(cfg.Stop) == 0 {
		cfg.Stop = DefaultStop
	}
	return &CompletionProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Request builds a request for prompt using the configured defaults.
func (p *CompletionProvider) Request(prompt string) *CompletionRequest {
	return &CompletionRequest{
		Model:       p.config.Model,
		Prompt:      prompt,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		Stop:        p.config.Stop,
		Stream:      p.config.Stream,
	}
}

// Complete sends one completion request and returns the trimmed text of the
// first choice. Zero request fields take the configured defaults. Streamed
// responses are accumulated before returning; a stream that breaks off is a
// RequestError, never a partial reply.
func (p *CompletionProvider) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if req.Model == "" {
		req.Model = p.config.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = p.config.MaxTokens
	}
	if req.Temperature == nil {
		req.Temperature = Float64(*p.config.Temperature)
	}
	if req.Stop == nil {
		req.Stop = p.config.Stop
	}
	req.Stream = req.Stream || p.config.Stream
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	var (
		text string
		err  error
	)
	if req.Stream {
		text, err = p.completeStream(ctx, req)
	} else {
		text, err = p.complete(ctx, req)
	}
	if err != nil {
		return "", err
	}
	p.logger.Debug("completion received",
		zap.String("model", req.Model),
		zap.Bool("stream", req.Stream),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(text), nil
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func (p *CompletionProvider) complete(ctx context.Context, req *CompletionRequest) (string, error) {
	resp, err := p.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RequestError{Op: "decode", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &RequestError{Op: "decode", Err: errors.New("empty response from provider")}
	}
	return out.Choices[0].Text, nil
}

func (p *CompletionProvider) completeStream(ctx context.Context, req *CompletionRequest) (string, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return "", &RequestError{Op: "stream", Err: chunk.Err}
		}
		b.WriteString(chunk.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", &RequestError{Op: "stream", Err: err}
	}
	return b.String(), nil
}

// Stream sends a streaming completion request. The channel closes after the
// [DONE] marker or when ctx is cancelled. A read error, or a body that ends
// before [DONE] and without a finish_reason, is delivered as a final chunk
// with Err set.
func (p *CompletionProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan *StreamChunk, error) {
	streamReq := *req
	streamReq.Stream = true
	resp, err := p.post(ctx, &streamReq)
	if err != nil {
		return nil, err
	}
	ch := make(chan *StreamChunk, 64)
	go p.readSSEStream(ctx, resp.Body, ch)
	return ch, nil
}

func (p *CompletionProvider) post(ctx context.Context, req *CompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &RequestError{Op: "encode", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &RequestError{Op: "create", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Op: "send", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &RequestError{
			Op:         "send",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("API error: %s", strings.TrimSpace(string(respBody))),
		}
	}
	return resp, nil
}

func (p *CompletionProvider) readSSEStream(ctx context.Context, body io.ReadCloser, ch chan<- *StreamChunk) {
	defer close(ch)
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	finished := false
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			send(ctx, ch, &StreamChunk{Done: true})
			return
		}
		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		if chunk.Choices[0].FinishReason != "" {
			finished = true
		}
		if !send(ctx, ch, &StreamChunk{
			Text:         chunk.Choices[0].Text,
			FinishReason: chunk.Choices[0].FinishReason,
		}) {
			return
		}
	}
	err := sc.Err()
	if err == nil && !finished {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		p.logger.Warn("completion stream interrupted", zap.Error(err))
		send(ctx, ch, &StreamChunk{Err: err})
	}
}

func send(ctx context.Context, ch chan<- *StreamChunk, c *StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// ListModels returns available models from the endpoint.
func (p *CompletionProvider) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.Endpoint+"/models", nil)
	if err != nil {
		return nil, err
	}
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Op: "models", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Op: "models", StatusCode: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &RequestError{Op: "models", Err: err}
	}

	models := make([]Model, len(result.Data))
	for i, m := range result.Data {
		models[i] = Model{ID: m.ID, Name: m.ID}
	}
	return models, nil
}

// HealthCheck verifies the endpoint is reachable.
func (p *CompletionProvider) HealthCheck(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}
