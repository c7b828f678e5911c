package embedding

import (
	"context"

	"go.uber.org/zap"
)

// LocalProvider calls an Ollama-compatible /api/embeddings endpoint, one
// request per text.
type LocalProvider struct {
	*client
	model string
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg Config, logger *zap.Logger) *LocalProvider {
	return &LocalProvider{client: newClient(cfg, logger), model: cfg.Model}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result localResponse
		if err := p.post(ctx, "/api/embeddings", localRequest{Model: p.model, Prompt: text}, &result); err != nil {
			return nil, err
		}
		embeddings = append(embeddings, result.Embedding)
	}
	p.learn(embeddings)
	return embeddings, nil
}
