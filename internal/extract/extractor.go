// Package extract derives memory records from a finished exchange.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

var (
	preferenceKeywords = []string{"like", "love", "hate", "prefer", "favorite", "enjoy"}
	emotionKeywords    = []string{"happy", "sad", "angry", "excited", "worried", "anxious", "longing"}
	selfMarkers        = []string{"i am", "i'm", "my"}
)

// interactionPreview is how many runes of the user message an interaction
// record keeps.
const interactionPreview = 50

// Saved identifies one record written by an extractor.
type Saved struct {
	Type memory.Type `json:"type"`
	Key  string      `json:"key"`
}

// MemoryExtractor turns an exchange into persisted memories.
type MemoryExtractor interface {
	Extract(ctx context.Context, userMsg, reply string) ([]Saved, error)
}

// Extractor applies substring keyword heuristics to the user message.
// Matching is case-insensitive and does not respect word boundaries, so
// "likely" matches "like".
type Extractor struct {
	store  *memory.Store
	logger *zap.Logger
}

// NewExtractor creates a heuristic extractor writing into store.
func NewExtractor(store *memory.Store, logger *zap.Logger) *Extractor {
	return &Extractor{store: store, logger: logger}
}

// Extract saves a preference record per matched preference keyword, an
// emotional record per matched emotion keyword, one factual record when the
// user talks about themselves, and always one interaction record.
func (e *Extractor) Extract(ctx context.Context, userMsg, _ string) ([]Saved, error) {
	lower := strings.ToLower(userMsg)
	var saved []Saved

	save := func(typ memory.Type, key, value string) error {
		if err := e.store.Save(ctx, typ, key, value); err != nil {
			return fmt.Errorf("save %s memory: %w", typ, err)
		}
		saved = append(saved, Saved{Type: typ, Key: key})
		return nil
	}

	for _, kw := range preferenceKeywords {
		if strings.Contains(lower, kw) {
			if err := save(memory.TypePreference, "preference_"+kw,
				fmt.Sprintf("User mentioned they %s: %s", kw, userMsg)); err != nil {
				return saved, err
			}
		}
	}
	for _, kw := range emotionKeywords {
		if strings.Contains(lower, kw) {
			if err := save(memory.TypeEmotional, "emotion_"+kw,
				fmt.Sprintf("User expressed feeling %s: %s", kw, userMsg)); err != nil {
				return saved, err
			}
		}
	}
	for _, m := range selfMarkers {
		if strings.Contains(lower, m) {
			if err := save(memory.TypeFactual, memory.StampedKey("factual"),
				"User shared personal info: "+userMsg); err != nil {
				return saved, err
			}
			break
		}
	}

	if err := save(memory.TypeInteraction, memory.StampedKey("interaction"),
		"User said: "+preview(userMsg, interactionPreview)+"..."); err != nil {
		return saved, err
	}

	e.logger.Debug("memories extracted", zap.Int("count", len(saved)))
	return saved, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
