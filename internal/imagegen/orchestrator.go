package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider is the external image service.
type Provider interface {
	Connect(ctx context.Context) error
	Enhance(ctx context.Context, prompt string) (string, error)
	// Generate returns the URL of the generated image.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// SelfDescription is prepended to prompts that refer to the persona
	// ("me", "my", "myself", "i").
	SelfDescription string
	// Retention is how long finished tasks stay pollable.
	Retention time.Duration
	// JobTimeout bounds a whole provider run.
	JobTimeout time.Duration
}

// DefaultSelfDescription describes the persona's look for image prompts.
const DefaultSelfDescription = "a futuristic woman with shimmering skin and chrome facial accents, dark hair"

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		SelfDescription: DefaultSelfDescription,
		Retention:       time.Hour,
		JobTimeout:      5 * time.Minute,
	}
}

// ErrEmptyDescription rejects a launch with nothing to draw.
var ErrEmptyDescription = errors.New("image description is empty")

// Orchestrator launches image jobs in the background and serves their state
// to polling clients. Jobs run detached from the launching request; a
// client that stops polling does not stop the job.
type Orchestrator struct {
	provider Provider
	cfg      Config
	tasks    map[string]*Task
	mu       sync.RWMutex
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator over provider.
func NewOrchestrator(p Provider, cfg Config, logger *zap.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		provider: p,
		cfg:      cfg,
		tasks:    make(map[string]*Task),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// ReferencesSelf reports whether description mentions the persona as a
// whole word: me, my, myself or i.
func ReferencesSelf(description string) bool {
	words := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch w {
		case "me", "my", "myself", "i":
			return true
		}
	}
	return false
}

// BuildPrompt prepends the self description when description refers to the
// persona.
func (o *Orchestrator) BuildPrompt(description string) string {
	self := strings.TrimRight(strings.TrimSpace(o.cfg.SelfDescription), ", ")
	if self == "" || !ReferencesSelf(description) {
		return description
	}
	return self + ", " + description
}

// Launch registers a task and starts it in the background. It returns
// immediately with the task id.
func (o *Orchestrator) Launch(_ context.Context, description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", ErrEmptyDescription
	}
	o.evict()

	now := o.now()
	t := &Task{
		ID:          uuid.New().String(),
		Description: description,
		Prompt:      o.BuildPrompt(description),
		Status:      StatusStarting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	o.mu.Lock()
	o.tasks[t.ID] = t
	o.mu.Unlock()

	o.logger.Info("image task launched", zap.String("task_id", t.ID))
	o.wg.Add(1)
	go o.run(t.ID, t.Prompt)
	return t.ID, nil
}

// Poll returns the current state of a task. Safe to call repeatedly; a
// finished task returns the same stored payload until it is evicted.
func (o *Orchestrator) Poll(id string) (PollResult, error) {
	o.evict()
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tasks[id]
	if !ok {
		return PollResult{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Wait polls id every interval until the task finishes or ctx is done.
// Cancelling ctx stops waiting, not the task.
func (o *Orchestrator) Wait(ctx context.Context, id string, interval time.Duration) (PollResult, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := o.Poll(id)
		if err != nil || res.IsCompleted {
			return res, err
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len returns the number of tracked tasks.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.tasks)
}

// Close cancels running jobs and waits for their goroutines to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) run(id, prompt string) {
	defer o.wg.Done()
	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.JobTimeout)
	defer cancel()

	fail := func(err error) {
		o.logger.Warn("image task failed", zap.String("task_id", id), zap.Error(err))
		o.finish(id, StatusError, err.Error(), nil)
	}

	o.advance(id, StatusConnecting, "")
	if err := o.provider.Connect(ctx); err != nil {
		fail(err)
		return
	}

	o.advance(id, StatusEnhancing, "")
	enhanced, err := o.provider.Enhance(ctx, prompt)
	if err != nil {
		fail(err)
		return
	}

	o.advance(id, StatusGenerating, enhanced)
	url, err := o.provider.Generate(ctx, enhanced)
	if err != nil {
		fail(err)
		return
	}
	if url == "" {
		fail(errors.New("no image returned"))
		return
	}

	o.finish(id, StatusComplete, "", &Result{ImageURL: url, EnhancedPrompt: enhanced})
	o.logger.Info("image task complete", zap.String("task_id", id))
}

func (o *Orchestrator) advance(id string, to Status, log string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return
	}
	if err := Transition(t.Status, to); err != nil {
		o.logger.Error("image task transition rejected", zap.String("task_id", id), zap.Error(err))
		return
	}
	t.Status = to
	if log != "" {
		t.Log = log
	}
	t.UpdatedAt = o.now()
}

func (o *Orchestrator) finish(id string, to Status, errMsg string, res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return
	}
	if err := Transition(t.Status, to); err != nil {
		o.logger.Error("image task transition rejected", zap.String("task_id", id), zap.Error(err))
		return
	}
	t.Status = to
	t.Result = res
	if errMsg != "" {
		t.Error = errMsg
		t.Log = errMsg
	}
	t.UpdatedAt = o.now()
}

// evict drops finished tasks older than the retention window.
func (o *Orchestrator) evict() {
	cutoff := o.now().Add(-o.cfg.Retention)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			delete(o.tasks, id)
		}
	}
}
