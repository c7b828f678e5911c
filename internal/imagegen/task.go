// Package imagegen runs asynchronous image-generation jobs and tracks their
// progress for polling clients.
package imagegen

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of an image task.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusConnecting Status = "connecting"
	StatusEnhancing  Status = "enhancing"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// ErrTaskNotFound is returned for ids the orchestrator does not know, either
// never launched or already evicted.
var ErrTaskNotFound = errors.New("image task not found")

var validTransitions = map[Status][]Status{
	StatusStarting:   {StatusConnecting, StatusError},
	StatusConnecting: {StatusEnhancing, StatusError},
	StatusEnhancing:  {StatusGenerating, StatusError},
	StatusGenerating: {StatusComplete, StatusError},
}

// Transition returns nil if from→to is a legal transition.
func Transition(from, to Status) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("no transitions from %q", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %q → %q", from, to)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Result is the payload of a completed task.
type Result struct {
	ImageURL       string `json:"image_url"`
	EnhancedPrompt string `json:"enhanced_prompt"`
}

// Task is one image-generation job.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Status      Status    `json:"status"`
	Log         string    `json:"log,omitempty"`
	Error       string    `json:"error,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PollResult is the client-facing snapshot of a task.
type PollResult struct {
	ID          string  `json:"task_id"`
	Status      Status  `json:"status"`
	Log         string  `json:"log,omitempty"`
	Error       string  `json:"error,omitempty"`
	IsRunning   bool    `json:"is_running"`
	IsCompleted bool    `json:"is_completed"`
	Result      *Result `json:"result,omitempty"`
}

func (t *Task) snapshot() PollResult {
	p := PollResult{
		ID:          t.ID,
		Status:      t.Status,
		Log:         t.Log,
		Error:       t.Error,
		IsRunning:   !t.Status.Terminal(),
		IsCompleted: t.Status.Terminal(),
	}
	if t.Result != nil {
		r := *t.Result
		p.Result = &r
	}
	return p
}
