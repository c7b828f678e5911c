package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/provider"
)

const llmPrompt = `You extract information worth remembering about a user from a conversation.

USER MESSAGE: %s

ASSISTANT RESPONSE: %s

Identify anything important to remember about the user for future conversations.
Reply with a single JSON object and nothing else:
{"memories":[{"type":"factual|emotional|preference|interaction","key":"<memory_category>","value":"<specific_information>","importance":<1-10>}]}

If nothing should be remembered, reply {"memories":[]}.`

type llmMemory struct {
	Type       string `json:"type"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Importance int    `json:"importance"`
}

// LLMExtractor asks the model which memories to keep. When the model call
// fails or its answer is not usable JSON, it falls back to the heuristic
// extractor so a turn never loses its interaction record.
type LLMExtractor struct {
	model    provider.Completer
	fallback *Extractor
	store    *memory.Store
	logger   *zap.Logger
}

// NewLLMExtractor creates a model-driven extractor.
func NewLLMExtractor(model provider.Completer, store *memory.Store, logger *zap.Logger) *LLMExtractor {
	return &LLMExtractor{
		model:    model,
		fallback: NewExtractor(store, logger),
		store:    store,
		logger:   logger,
	}
}

// Extract implements MemoryExtractor.
func (e *LLMExtractor) Extract(ctx context.Context, userMsg, reply string) ([]Saved, error) {
	text, err := e.model.Complete(ctx, &provider.CompletionRequest{
		Prompt:      fmt.Sprintf(llmPrompt, userMsg, reply),
		MaxTokens:   512,
		Temperature: provider.Float64(0.2),
	})
	if err != nil {
		e.logger.Warn("llm extraction failed, using keywords", zap.Error(err))
		return e.fallback.Extract(ctx, userMsg, reply)
	}

	found, err := parseMemories(text)
	if err != nil {
		e.logger.Warn("llm extraction unparseable, using keywords", zap.Error(err))
		return e.fallback.Extract(ctx, userMsg, reply)
	}

	var saved []Saved
	for _, m := range found {
		typ, err := memory.ParseType(m.Type)
		if err != nil || typ == memory.TypeCharacter {
			e.logger.Debug("skipping extracted memory", zap.String("type", m.Type))
			continue
		}
		key := strings.TrimSpace(m.Key)
		value := strings.TrimSpace(m.Value)
		if key == "" || value == "" {
			continue
		}
		importance := m.Importance
		if importance == 0 {
			importance = memory.DefaultImportance
		}
		if err := e.store.Save(ctx, typ, key, value,
			memory.WithImportance(importance), memory.WithSource("llm_extraction")); err != nil {
			return saved, fmt.Errorf("save extracted memory: %w", err)
		}
		saved = append(saved, Saved{Type: typ, Key: key})
	}
	return saved, nil
}

// parseMemories decodes the first JSON object in text. Models often wrap
// JSON in prose or code fences.
func parseMemories(text string) ([]llmMemory, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var parsed struct {
		Memories []llmMemory `json:"memories"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("decode extracted memories: %w", err)
	}
	return parsed.Memories, nil
}
