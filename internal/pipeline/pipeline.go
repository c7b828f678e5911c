// Package pipeline turns one user utterance into a persona reply.
//
// A turn runs a fixed sequence of stages over a *State: validate, recall,
// compose, assemble, complete, parse, tags and persist. The first stage to
// fail ends the turn with an error result; nothing already committed (for
// instance the user message appended during assemble) is rolled back.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/extract"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/mood"
	"github.com/nidhogg/nyx/internal/prompt"
	"github.com/nidhogg/nyx/internal/provider"
	"github.com/nidhogg/nyx/internal/tags"
)

// Config tunes a pipeline.
type Config struct {
	// WindowSize is how many non-system messages the prompt carries.
	WindowSize int
	// MemoryLimit caps recalled memories.
	MemoryLimit int
	// AutoLaunchImages starts an image task for every <image> tag.
	AutoLaunchImages bool
}

// DefaultConfig returns the default turn settings.
func DefaultConfig() Config {
	return Config{WindowSize: 20, MemoryLimit: memory.DefaultScoreLimit}
}

// ImageLauncher starts an image job out of band.
type ImageLauncher interface {
	Launch(ctx context.Context, description string) (string, error)
}

// Deps are the collaborators of a pipeline. Images and Handlers may be nil.
type Deps struct {
	Persona   prompt.Persona
	Store     *memory.Store
	Scorer    *memory.Scorer
	Mood      *mood.Tracker
	Model     provider.Completer
	Parser    *tags.Parser
	Handlers  *tags.Registry
	Extractor extract.MemoryExtractor
	Cache     Cache
	Images    ImageLauncher
}

type stage struct {
	name Stage
	run  func(ctx context.Context, st *State) error
}

// Pipeline runs turns. It is safe for concurrent use; turns on the same
// session are serialized by the session's turn lock.
type Pipeline struct {
	deps    Deps
	persona string
	cfg     Config
	stages  []stage
	ids     *idGen
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = def.MemoryLimit
	}
	if deps.Parser == nil {
		deps.Parser = tags.NewParser(tags.DefaultSpecs...)
	}
	if deps.Cache == nil {
		deps.Cache = NewMemoryCache(0)
	}
	if deps.Scorer == nil {
		deps.Scorer = memory.NewScorer(deps.Store, logger)
	}
	if deps.Mood == nil {
		deps.Mood = mood.NewTracker(deps.Store, logger)
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewExtractor(deps.Store, logger)
	}

	p := &Pipeline{
		deps:    deps,
		persona: deps.Persona.WithDefaults().Text(),
		cfg:     cfg,
		ids:     &idGen{now: time.Now},
		now:     time.Now,
		logger:  logger,
	}
	p.stages = []stage{
		{StageValidate, p.validate},
		{StageRecall, p.recall},
		{StageCompose, p.compose},
		{StageAssemble, p.assemble},
		{StageComplete, p.complete},
		{StageParse, p.parse},
		{StageTags, p.processTags},
		{StagePersist, p.persist},
	}
	return p
}

// Run executes one turn on sess. It never returns a nil result; failures
// are reported as a Result with status "error".
func (p *Pipeline) Run(ctx context.Context, sess *conversation.Session, input string) *Result {
	release := sess.BeginTurn()
	defer release()

	st := &State{Input: input, Session: sess}
	for _, s := range p.stages {
		start := p.now()
		if err := s.run(ctx, st); err != nil {
			p.logger.Warn("turn failed",
				zap.String("session", sess.ID()),
				zap.String("stage", string(s.name)),
				zap.Error(err))
			return errorResult(err)
		}
		st.Steps = append(st.Steps, Step{Stage: s.name, Duration: p.now().Sub(start)})
		if s.name == StageComplete {
			// The reply exists; the rest of the turn commits even if the
			// caller goes away.
			ctx = context.WithoutCancel(ctx)
		}
	}
	p.logger.Info("turn complete",
		zap.String("session", sess.ID()),
		zap.String("response_id", st.Response.ResponseID),
		zap.Float64("model_seconds", st.Timing.Duration))
	return st.Response
}

func (p *Pipeline) validate(_ context.Context, st *State) error {
	st.Input = strings.TrimSpace(st.Input)
	if st.Input == "" {
		return &ValidationError{Msg: "Empty message"}
	}
	return nil
}

func (p *Pipeline) recall(ctx context.Context, st *State) error {
	memories, err := p.deps.Scorer.Score(ctx, st.Input, p.cfg.MemoryLimit)
	if err != nil {
		return fmt.Errorf("recall memories: %w", err)
	}
	st.Memories = memories
	st.Mood = p.deps.Mood.Current(ctx)
	return nil
}

func (p *Pipeline) compose(_ context.Context, st *State) error {
	composed := prompt.Compose(p.persona, st.Mood, st.Memories, st.Session.Messages())
	st.System = composed[0].Content
	st.Session.SetSystem(st.System)
	return nil
}

func (p *Pipeline) assemble(ctx context.Context, st *State) error {
	st.Session.Append(ctx, conversation.Message{Role: conversation.RoleUser, Content: st.Input})
	st.Window = st.Session.Window(p.cfg.WindowSize)
	st.Prompt = prompt.Render(st.Window)
	return nil
}

func (p *Pipeline) complete(ctx context.Context, st *State) error {
	st.Timing.StartedAt = p.now()
	raw, err := p.deps.Model.Complete(ctx, &provider.CompletionRequest{Prompt: st.Prompt})
	st.Timing.CompletedAt = p.now()
	st.Timing.Duration = st.Timing.CompletedAt.Sub(st.Timing.StartedAt).Seconds()
	if err != nil {
		return err
	}
	st.Raw = raw
	return nil
}

func (p *Pipeline) parse(_ context.Context, st *State) error {
	st.Parsed = p.deps.Parser.Parse(st.Raw)
	return nil
}

func (p *Pipeline) processTags(ctx context.Context, st *State) error {
	if p.deps.Handlers != nil && len(st.Parsed.Tags) > 0 {
		st.Tags = p.deps.Handlers.Process(ctx, st.Parsed.Tags)
	}
	if p.cfg.AutoLaunchImages && p.deps.Images != nil {
		for _, desc := range st.Parsed.Images {
			id, err := p.deps.Images.Launch(ctx, desc)
			if err != nil {
				p.logger.Warn("auto image launch failed", zap.Error(err))
				continue
			}
			st.Images = append(st.Images, id)
		}
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, st *State) error {
	parsed := st.Parsed

	thoughtKey := memory.StampedKey("thought")
	for i, t := range parsed.Thoughts {
		if err := p.deps.Store.Save(ctx, memory.TypeInteraction, thoughtKey+"_"+strconv.Itoa(i), "Thought: "+t,
			memory.WithImportance(7), memory.WithSource("thought_extraction")); err != nil {
			return fmt.Errorf("persist thought: %w", err)
		}
	}

	if err := p.deps.Mood.Update(ctx, parsed.Mood); err != nil {
		return err
	}

	st.Session.Append(ctx, conversation.Message{Role: conversation.RoleAssistant, Content: parsed.MainText})

	if _, err := p.deps.Extractor.Extract(ctx, st.Input, parsed.MainText); err != nil {
		return fmt.Errorf("extract memories: %w", err)
	}

	id := p.ids.next(st.Input)
	if err := p.deps.Cache.Put(ctx, CacheEntry{
		ResponseID: id,
		Raw:        st.Raw,
		Parsed:     parsed,
		Timestamp:  p.now(),
	}); err != nil {
		p.logger.Warn("cache response failed", zap.String("response_id", id), zap.Error(err))
	}

	current := st.Mood
	if parsed.Mood != "" {
		current = parsed.Mood
	}
	timing := st.Timing
	st.Response = &Result{
		Status:     StatusSuccess,
		ResponseID: id,
		Reply:      parsed.MainText,
		Thoughts:   parsed.Thoughts,
		Images:     parsed.Images,
		Mood:       current,
		Timing:     &timing,
		Tags:       st.Tags,
		ImageTasks: st.Images,
	}
	return nil
}

// Cached returns the raw and parsed reply stored under a response id.
func (p *Pipeline) Cached(ctx context.Context, id string) (*CacheEntry, error) {
	return p.deps.Cache.Get(ctx, id)
}

// ClearCache empties the response cache.
func (p *Pipeline) ClearCache(ctx context.Context) (int, error) {
	return p.deps.Cache.Clear(ctx)
}
