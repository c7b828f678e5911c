// Package embedding turns memory text into vectors for the semantic index.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string        `json:"provider"` // "api" or "local"
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	APIKey    string        `json:"api_key"`
	Dimension int           `json:"dimension"`
	Timeout   time.Duration `json:"timeout"`
}

// New builds the provider named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding: endpoint not configured")
	}
	switch cfg.Provider {
	case "", "api":
		return NewAPIProvider(cfg, logger), nil
	case "local", "ollama":
		return NewLocalProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// client is the HTTP plumbing shared by both providers. The vector
// dimension is learned from the first successful response.
type client struct {
	endpoint  string
	apiKey    string
	dimension int
	learned   atomic.Int64
	hc        *http.Client
	logger    *zap.Logger
}

func newClient(cfg Config, logger *zap.Logger) *client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &client{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
		hc:        &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}

func (c *client) learn(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		if c.learned.CompareAndSwap(0, int64(len(vectors[0]))) {
			c.logger.Debug("embedding dimension learned", zap.Int("dimension", len(vectors[0])))
		}
	}
}

// Dimension returns the learned vector size, or the configured one before
// the first successful call.
func (c *client) Dimension() int {
	if n := c.learned.Load(); n > 0 {
		return int(n)
	}
	return c.dimension
}
