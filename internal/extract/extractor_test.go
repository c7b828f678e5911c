package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/provider"
)

func newStore() *memory.Store {
	return memory.NewStore(nil, zap.NewNop())
}

func countType(saved []Saved, typ memory.Type) int {
	n := 0
	for _, s := range saved {
		if s.Type == typ {
			n++
		}
	}
	return n
}

func TestExtractKeywords(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	e := NewExtractor(store, zap.NewNop())

	saved, err := e.Extract(ctx, "I'm so happy, I love rainy days", "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if countType(saved, memory.TypePreference) != 1 {
		t.Errorf("want one preference record, got %+v", saved)
	}
	if countType(saved, memory.TypeEmotional) != 1 {
		t.Errorf("want one emotional record, got %+v", saved)
	}
	if countType(saved, memory.TypeFactual) != 1 {
		t.Errorf("want one factual record, got %+v", saved)
	}
	if countType(saved, memory.TypeInteraction) != 1 {
		t.Errorf("want one interaction record, got %+v", saved)
	}

	rec, err := store.Get(ctx, memory.TypePreference, "preference_love")
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if rec.Value != "User mentioned they love: I'm so happy, I love rainy days" {
		t.Errorf("value = %q", rec.Value)
	}
	rec, err = store.Get(ctx, memory.TypeEmotional, "emotion_happy")
	if err != nil || !strings.HasPrefix(rec.Value, "User expressed feeling happy: ") {
		t.Errorf("emotion record = %+v, %v", rec, err)
	}
}

func TestExtractAlwaysWritesInteraction(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	msg := strings.Repeat("é", 60)

	saved, err := NewExtractor(store, zap.NewNop()).Extract(ctx, msg, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(saved) != 1 || saved[0].Type != memory.TypeInteraction {
		t.Fatalf("saved = %+v", saved)
	}
	if !strings.HasPrefix(saved[0].Key, "interaction_") {
		t.Errorf("key = %q", saved[0].Key)
	}
	rec, err := store.Get(ctx, memory.TypeInteraction, saved[0].Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := "User said: " + strings.Repeat("é", 50) + "..."
	if rec.Value != want {
		t.Errorf("value = %q, want %q", rec.Value, want)
	}
}

func TestExtractSubstringMatch(t *testing.T) {
	saved, err := NewExtractor(newStore(), zap.NewNop()).Extract(context.Background(), "That seems likely", "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if countType(saved, memory.TypePreference) != 1 {
		t.Errorf("\"likely\" should match the like keyword: %+v", saved)
	}
}

type fakeModel struct {
	text string
	err  error
	req  *provider.CompletionRequest
}

func (f *fakeModel) Complete(_ context.Context, req *provider.CompletionRequest) (string, error) {
	f.req = req
	return f.text, f.err
}

func TestLLMExtract(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	model := &fakeModel{text: "Sure!\n```json\n" +
		`{"memories":[{"type":"preference","key":"drink","value":"likes oolong","importance":8},` +
		`{"type":"character","key":"x","value":"y"},{"type":"factual","key":"","value":"z"}]}` + "\n```"}

	saved, err := NewLLMExtractor(model, store, zap.NewNop()).Extract(ctx, "I drink oolong", "Nice")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(saved) != 1 || saved[0].Key != "drink" {
		t.Fatalf("saved = %+v", saved)
	}
	rec, err := store.Get(ctx, memory.TypePreference, "drink")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Importance != 8 || rec.Source != "llm_extraction" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(model.req.Prompt, "USER MESSAGE: I drink oolong") || model.req.Temperature == nil || *model.req.Temperature != 0.2 {
		t.Errorf("request = %+v", model.req)
	}
}

func TestLLMExtractFallsBack(t *testing.T) {
	for name, model := range map[string]*fakeModel{
		"model error": {err: errors.New("boom")},
		"bad json":    {text: "no memories today"},
	} {
		t.Run(name, func(t *testing.T) {
			saved, err := NewLLMExtractor(model, newStore(), zap.NewNop()).Extract(context.Background(), "hello", "")
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if countType(saved, memory.TypeInteraction) != 1 {
				t.Errorf("fallback should write an interaction record: %+v", saved)
			}
		})
	}
}
