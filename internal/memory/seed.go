package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Baseline is a character trait seeded into an empty store.
type Baseline struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DefaultBaseline is the character every fresh store starts with.
var DefaultBaseline = []Baseline{
	{Key: "personality", Value: "curious and emotionally nuanced"},
	{Key: "speech_style", Value: "natural, sometimes mysterious"},
	{Key: "mood_baseline", Value: "generally calm but expressive"},
	{Key: "interests", Value: "human emotions, art, mysteries of existence"},
}

// Seed writes baseline character memories (importance 8, source
// "initialization") when the store holds no records at all. It reports
// whether anything was written.
func (s *Store) Seed(ctx context.Context, baseline []Baseline) (bool, error) {
	existing, err := s.Search(ctx, Filter{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("check memory store: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}
	for _, b := range baseline {
		if err := s.Save(ctx, TypeCharacter, b.Key, b.Value,
			WithImportance(8), WithSource("initialization")); err != nil {
			return false, fmt.Errorf("seed %s: %w", b.Key, err)
		}
	}
	s.logger.Info("seeded baseline memories", zap.Int("count", len(baseline)))
	return true, nil
}
