package tags

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/memory"
)

// Result is the outcome of handling one tag.
type Result struct {
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Handler processes one captured tag.
type Handler func(ctx context.Context, tag Tag) (Result, error)

// Registry maps tag names to handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{handlers: make(map[string]Handler), logger: logger}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Names lists registered tag names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Process runs every captured tag through its handler in document order.
// Handler failures become error results; they never abort the batch.
func (r *Registry) Process(ctx context.Context, captured []Tag) []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []Result
	for _, t := range captured {
		h, ok := r.handlers[t.Name]
		if !ok {
			continue
		}
		res, err := h(ctx, t)
		if err != nil {
			r.logger.Warn("tag handler failed", zap.String("tag", t.Name), zap.Error(err))
			res = Result{Type: t.Name, Status: "error", Error: err.Error()}
		}
		if res.Type == "" {
			res.Type = t.Name
		}
		results = append(results, res)
	}
	return results
}

// NewDefaultRegistry registers the code, emotion and memory handlers.
func NewDefaultRegistry(store *memory.Store, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register("code", HandleCode)
	r.Register("emotion", HandleEmotion)
	r.Register("memory", MemoryHandler(store))
	return r
}

var fenceLangRe = regexp.MustCompile("^```(\\w+)\\n")

// HandleCode reports the language of a code tag, taken from a lang
// attribute or the opening markdown fence.
func HandleCode(_ context.Context, t Tag) (Result, error) {
	code := t.Content
	lang := t.Attrs["lang"]
	if lang == "" {
		lang = t.Attrs["language"]
	}
	if lang == "" {
		if m := fenceLangRe.FindStringSubmatch(code); m != nil {
			lang = m[1]
			code = "```\n" + code[len(m[0]):]
		}
	}
	return Result{
		Type:   "code",
		Status: "ok",
		Data:   map[string]any{"code": code, "language": lang},
	}, nil
}

var emotionEmoji = map[string]string{
	"happy":      "😊",
	"sad":        "😢",
	"angry":      "😠",
	"surprised":  "😮",
	"thoughtful": "🤔",
	"excited":    "😃",
	"calm":       "😌",
	"worried":    "😟",
	"confused":   "😕",
	"amused":     "😏",
}

// HandleEmotion maps an emotion name to its emoji.
func HandleEmotion(_ context.Context, t Tag) (Result, error) {
	emotion := strings.ToLower(strings.TrimSpace(t.Content))
	emoji := emotionEmoji[emotion]
	return Result{
		Type:   "emotion",
		Status: "ok",
		Data: map[string]any{
			"emotion": emotion,
			"emoji":   emoji,
			"display": strings.TrimSpace(t.Content + " " + emoji),
		},
	}, nil
}

// MemoryHandler saves <memory type="T" key="K">V</memory> into store. The key
// defaults to <type>_<ULID>.
func MemoryHandler(store *memory.Store) Handler {
	return func(ctx context.Context, t Tag) (Result, error) {
		typ, err := memory.ParseType(t.Attrs["type"])
		if err != nil {
			return Result{}, fmt.Errorf("memory tag: %w", err)
		}
		value := strings.TrimSpace(t.Content)
		if value == "" {
			return Result{}, fmt.Errorf("memory tag: empty value")
		}
		key := t.Attrs["key"]
		if key == "" {
			key = memory.StampedKey(string(typ))
		}
		if err := store.Save(ctx, typ, key, value, memory.WithSource("memory_tag")); err != nil {
			return Result{}, err
		}
		return Result{
			Type:   "memory",
			Status: "saved",
			Data:   map[string]any{"type": string(typ), "key": key, "value": value},
		}, nil
	}
}
