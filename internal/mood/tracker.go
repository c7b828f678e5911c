package mood

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

const (
	// Default is reported when no mood has been recorded.
	Default = "neutral and curious"

	keyPrefix  = "mood"
	importance = 6
	source     = "mood_extraction"
)

// Entry is one observation in the mood log.
type Entry struct {
	Key  string    `json:"key"`
	Mood string    `json:"mood"`
	At   time.Time `json:"at"`
}

// Tracker keeps mood as an append-only log of emotional memories keyed
// mood_<ULID>. The current mood is the value under the lexicographically
// latest key, which is also the most recent one.
type Tracker struct {
	store  *memory.Store
	logger *zap.Logger
}

// NewTracker creates a mood tracker over store.
func NewTracker(store *memory.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Current returns the latest recorded mood, or Default. Storage errors are
// logged and also yield Default.
func (t *Tracker) Current(ctx context.Context) string {
	entries, err := t.load(ctx)
	if err != nil {
		t.logger.Warn("read mood failed", zap.Error(err))
		return Default
	}
	if len(entries) == 0 {
		return Default
	}
	return entries[0].Mood
}

// Update appends a new mood observation. Blank moods are ignored.
func (t *Tracker) Update(ctx context.Context, mood string) error {
	mood = strings.TrimSpace(mood)
	if mood == "" {
		return nil
	}
	key := memory.StampedKey(keyPrefix)
	if err := t.store.Save(ctx, memory.TypeEmotional, key, mood,
		memory.WithImportance(importance), memory.WithSource(source)); err != nil {
		return fmt.Errorf("update mood: %w", err)
	}
	t.logger.Debug("mood updated", zap.String("mood", mood), zap.String("key", key))
	return nil
}

// History returns up to limit mood entries, newest first.
func (t *Tracker) History(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := t.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("mood history: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (t *Tracker) load(ctx context.Context) ([]Entry, error) {
	records, err := t.store.Search(ctx, memory.Filter{
		Type:        memory.TypeEmotional,
		KeyContains: keyPrefix,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key > records[j].Key })
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = Entry{Key: r.Key, Mood: r.Value, At: r.UpdatedAt}
	}
	return entries, nil
}
