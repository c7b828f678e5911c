package pipeline

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/tags"
)

// Stage names one step of a turn.
type Stage string

const (
	StageValidate Stage = "validate"
	StageRecall   Stage = "recall"
	StageCompose  Stage = "compose"
	StageAssemble Stage = "assemble"
	StageComplete Stage = "complete"
	StageParse    Stage = "parse"
	StageTags     Stage = "tags"
	StagePersist  Stage = "persist"
)

// ValidationError rejects input before any side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Timing covers the model call of a turn. Duration is in seconds.
type Timing struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    float64   `json:"duration"`
}

// Step records one finished stage.
type Step struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// State is the typed record a turn threads through its stages. Each stage
// reads what earlier stages wrote and fills in its own fields.
type State struct {
	Input    string
	Session  *conversation.Session
	Memories []memory.Record
	Mood     string
	System   string
	Window   []conversation.Message
	Prompt   string
	Raw      string
	Parsed   tags.ParsedReply
	Tags     []tags.Result
	Images   []string
	Timing   Timing
	Steps    []Step
	Response *Result
}

// Result is what a turn returns to the caller. Status is "success" or
// "error"; on error only Error is set.
type Result struct {
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	ResponseID string        `json:"response_id"`
	Reply      string        `json:"reply"`
	Thoughts   []string      `json:"thoughts"`
	Images     []string      `json:"images"`
	Mood       string        `json:"mood"`
	Timing     *Timing       `json:"timing"`
	Tags       []tags.Result `json:"tags,omitempty"`
	ImageTasks []string      `json:"image_tasks,omitempty"`
}

// MarshalJSON emits only status and error for failed turns.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Status == StatusError {
		return json.Marshal(struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}{r.Status, r.Error})
	}
	type plain Result
	return json.Marshal((*plain)(r))
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

func errorResult(err error) *Result {
	return &Result{Status: StatusError, Error: err.Error()}
}

// idGen issues resp_<unix-nanos>_<fnv32a(msg) % 10000>. The time component
// strictly increases even when the clock does not.
type idGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (g *idGen) next(msg string) string {
	g.mu.Lock()
	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	g.mu.Unlock()

	h := fnv.New32a()
	h.Write([]byte(msg))
	return fmt.Sprintf("resp_%d_%d", n, h.Sum32()%10000)
}
