package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultScoreLimit is the number of memories recalled per turn.
const DefaultScoreLimit = 5

// Bootstrap sentinel written the first time a Scorer sees an empty store.
const (
	SentinelKey   = "memory_bootstrap"
	SentinelValue = "This is the beginning of my memories with the user."
)

// Scorer ranks stored memories against an incoming message by word overlap.
//
// The score is the plain overlap count between the whitespace token sets of
// the message and of key+" "+value. Ties break on importance, then recency.
// When nothing overlaps the most recently updated records are returned
// instead. On an empty store the scorer seeds a single sentinel record, once
// per Scorer, so cold starts still produce context.
type Scorer struct {
	store        *Store
	bootstrapped atomic.Bool
	logger       *zap.Logger
}

// NewScorer creates a scorer over store.
func NewScorer(store *Store, logger *zap.Logger) *Scorer {
	return &Scorer{store: store, logger: logger}
}

// Score returns at most limit live records relevant to message. It returns an
// empty slice only when the store holds no live records and the bootstrap
// sentinel has already been consulted.
func (s *Scorer) Score(ctx context.Context, message string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultScoreLimit
	}
	records, err := s.store.Search(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	if len(records) == 0 {
		if !s.bootstrapped.CompareAndSwap(false, true) {
			return []Record{}, nil
		}
		if err := s.store.Save(ctx, TypeCharacter, SentinelKey, SentinelValue,
			WithImportance(MinImportance), WithSource("bootstrap")); err != nil {
			return nil, fmt.Errorf("seed bootstrap memory: %w", err)
		}
		s.logger.Info("seeded bootstrap memory")
		records, err = s.store.Search(ctx, Filter{ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("load memories: %w", err)
		}
	}

	query := wordSet(message)
	var hits []scored
	for _, r := range records {
		if n := overlap(query, wordSet(recordText(r))); n > 0 {
			hits = append(hits, scored{rec: r, score: float64(n)})
		}
	}

	if len(hits) == 0 {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		})
		if len(records) > limit {
			records = records[:limit]
		}
		return records, nil
	}

	rank(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

// Keyword is the importance-weighted keyword search used when no vector
// index is configured: score = overlap * importance / 5, zero scores dropped.
func (s *Scorer) Keyword(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultScoreLimit
	}
	records, err := s.store.Search(ctx, Filter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	words := wordSet(query)
	var hits []scored
	for _, r := range records {
		n := overlap(words, wordSet(recordText(r)))
		if n == 0 {
			continue
		}
		hits = append(hits, scored{rec: r, score: float64(n) * float64(r.Importance) / float64(DefaultImportance)})
	}
	rank(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}
