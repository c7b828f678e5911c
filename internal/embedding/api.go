package embedding

import (
	"context"

	"go.uber.org/zap"
)

// APIProvider calls an OpenAI-compatible /embeddings endpoint, batching all
// texts into one request.
type APIProvider struct {
	*client
	model string
}

// NewAPIProvider creates an APIProvider.
func NewAPIProvider(cfg Config, logger *zap.Logger) *APIProvider {
	return &APIProvider{client: newClient(cfg, logger), model: cfg.Model}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result apiResponse
	if err := p.post(ctx, "/embeddings", apiRequest{Model: p.model, Input: texts}, &result); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		pos := i
		if d.Index >= 0 && d.Index < len(embeddings) && embeddings[d.Index] == nil {
			pos = d.Index
		}
		embeddings[pos] = d.Embedding
	}
	p.learn(embeddings)
	return embeddings, nil
}
