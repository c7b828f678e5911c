package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

// Searcher serves semantic memory queries. It uses the vector index when
// one is configured and falls back to importance-weighted keyword overlap
// when there is none or the index call fails.
type Searcher struct {
	index  *MemoryIndex
	scorer *memory.Scorer
	logger *zap.Logger
}

// NewSearcher creates a searcher. index may be nil.
func NewSearcher(index *MemoryIndex, scorer *memory.Scorer, logger *zap.Logger) *Searcher {
	return &Searcher{index: index, scorer: scorer, logger: logger}
}

// Mode reports which strategy answers queries.
func (s *Searcher) Mode() string {
	if s.index != nil {
		return "vector"
	}
	return "keyword"
}

// Search returns up to limit memories related to query.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if s.index != nil {
		hits, err := s.index.Search(ctx, query, limit)
		if err == nil {
			return hits, nil
		}
		s.logger.Warn("vector search failed, using keyword search", zap.Error(err))
	}

	records, err := s.scorer.Keyword(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(records))
	for i, r := range records {
		hits[i] = Hit{Record: r}
	}
	return hits, nil
}
