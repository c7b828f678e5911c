package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunwareConfig holds the Runware REST settings.
type RunwareConfig struct {
	Endpoint        string        `json:"endpoint"`
	APIKey          string        `json:"api_key"`
	Model           string        `json:"model"`
	NegativePrompt  string        `json:"negative_prompt"`
	Width           int           `json:"width"`
	Height          int           `json:"height"`
	PromptMaxLength int           `json:"prompt_max_length"`
	Timeout         time.Duration `json:"timeout"`
}

func (c *RunwareConfig) applyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.runware.ai/v1"
	}
	if c.Model == "" {
		c.Model = "civitai:101055@128078"
	}
	if c.NegativePrompt == "" {
		c.NegativePrompt = "blurry, distorted"
	}
	if c.Width == 0 {
		c.Width = 512
	}
	if c.Height == 0 {
		c.Height = 512
	}
	if c.PromptMaxLength == 0 {
		c.PromptMaxLength = 77
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}

// RunwareProvider drives prompt enhancement and image inference through the
// Runware task API. Every call posts a JSON array of tasks and reads back
// the matching entries of the "data" array.
type RunwareProvider struct {
	config RunwareConfig
	client *http.Client
	logger *zap.Logger
}

// NewRunwareProvider creates a Runware client.
func NewRunwareProvider(cfg RunwareConfig, logger *zap.Logger) *RunwareProvider {
	cfg.applyDefaults()
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &RunwareProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type runwareTask map[string]any

type runwareResponse struct {
	Data []struct {
		TaskType string `json:"taskType"`
		TaskUUID string `json:"taskUUID"`
		Text     string `json:"text"`
		ImageURL string `json:"imageURL"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Connect validates the API key.
func (p *RunwareProvider) Connect(ctx context.Context) error {
	if p.config.APIKey == "" {
		return errors.New("runware: api key not configured")
	}
	_, err := p.send(ctx, runwareTask{"taskType": "authentication", "apiKey": p.config.APIKey})
	if err != nil {
		return fmt.Errorf("runware connect: %w", err)
	}
	return nil
}

// Enhance rewrites prompt into a richer one of bounded length.
func (p *RunwareProvider) Enhance(ctx context.Context, prompt string) (string, error) {
	resp, err := p.send(ctx, runwareTask{
		"taskType":        "promptEnhance",
		"taskUUID":        uuid.New().String(),
		"prompt":          prompt,
		"promptVersions":  1,
		"promptMaxLength": p.config.PromptMaxLength,
	})
	if err != nil {
		return "", fmt.Errorf("runware enhance: %w", err)
	}
	for _, d := range resp.Data {
		if d.Text != "" {
			return d.Text, nil
		}
	}
	return "", errors.New("runware enhance: empty result")
}

// Generate runs image inference and returns the first image URL.
func (p *RunwareProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.send(ctx, runwareTask{
		"taskType":       "imageInference",
		"taskUUID":       uuid.New().String(),
		"positivePrompt": prompt,
		"negativePrompt": p.config.NegativePrompt,
		"model":          p.config.Model,
		"width":          p.config.Width,
		"height":         p.config.Height,
		"numberResults":  1,
	})
	if err != nil {
		return "", fmt.Errorf("runware generate: %w", err)
	}
	for _, d := range resp.Data {
		if d.ImageURL != "" {
			return d.ImageURL, nil
		}
	}
	return "", nil
}

func (p *RunwareProvider) send(ctx context.Context, tasks ...runwareTask) (*runwareResponse, error) {
	body, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out runwareResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("API error: %s", out.Errors[0].Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	p.logger.Debug("runware call ok", zap.Int("results", len(out.Data)))
	return &out, nil
}
