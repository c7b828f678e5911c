package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/command"
	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/gateway"
	"github.com/nidhogg/nyx/internal/imagegen"
	"github.com/nidhogg/nyx/internal/pipeline"
)

type fakeTurner struct {
	sessions []string
	result   *pipeline.Result
}

func (f *fakeTurner) Run(_ context.Context, sess *conversation.Session, input string) *pipeline.Result {
	f.sessions = append(f.sessions, sess.ID())
	sess.Append(context.Background(), conversation.Message{Role: conversation.RoleUser, Content: input})
	return f.result
}

type recordingSender struct {
	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func (r *recordingSender) Send(_ context.Context, m *gateway.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *recordingSender) messages() []*gateway.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*gateway.OutboundMessage(nil), r.sent...)
}

type fakeWatcher struct {
	results map[string]imagegen.PollResult
}

func (f *fakeWatcher) Wait(_ context.Context, id string, _ time.Duration) (imagegen.PollResult, error) {
	res, ok := f.results[id]
	if !ok {
		return imagegen.PollResult{}, imagegen.ErrTaskNotFound
	}
	return res, nil
}

type fakeLauncher struct{}

func (fakeLauncher) Launch(context.Context, string) (string, error) { return "img-1", nil }

func setup(result *pipeline.Result) (*MessageRouter, *fakeTurner, *recordingSender, *conversation.Manager) {
	turns := &fakeTurner{result: result}
	out := &recordingSender{}
	sessions := conversation.NewManager(nil, 0, zap.NewNop())
	watcher := &fakeWatcher{results: map[string]imagegen.PollResult{
		"img-1": {ID: "img-1", Status: imagegen.StatusComplete, IsCompleted: true,
			Result: &imagegen.Result{ImageURL: "https://img.example/1.png"}},
		"img-2": {ID: "img-2", Status: imagegen.StatusError, IsCompleted: true, Error: "quota exceeded"},
	}}
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, nil, nil)
	command.RegisterImageCommand(reg, fakeLauncher{})
	mr := New(turns, sessions, out, reg, watcher, Config{ImagePollInterval: time.Millisecond}, zap.NewNop())
	return mr, turns, out, sessions
}

func inbound(content string) *gateway.InboundMessage {
	return &gateway.InboundMessage{Platform: "slack", ChannelID: "C1", UserName: "ana", Content: content, ReplyTo: "ts1"}
}

func TestHandleRunsPipelinePerChannel(t *testing.T) {
	mr, turns, out, _ := setup(&pipeline.Result{Status: pipeline.StatusSuccess, Reply: "Hello!"})
	defer mr.Close()

	mr.Handle(inbound("hi"))
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D9", Content: "yo"})
	mr.Handle(inbound("   "))

	if len(turns.sessions) != 2 || turns.sessions[0] != "slack:C1" || turns.sessions[1] != "discord:D9" {
		t.Fatalf("sessions = %v", turns.sessions)
	}
	sent := out.messages()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if sent[0].Content != "Hello!" || sent[0].ReplyTo != "ts1" || sent[0].Platform != "slack" {
		t.Errorf("reply = %+v", sent[0])
	}
}

func TestHandleReportsTurnError(t *testing.T) {
	mr, _, out, _ := setup(&pipeline.Result{Status: pipeline.StatusError, Error: "model unavailable"})
	defer mr.Close()

	mr.Handle(inbound("hi"))
	sent := out.messages()
	if len(sent) != 1 || sent[0].Content != "Sorry, I couldn't answer that: model unavailable" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestHandleCommands(t *testing.T) {
	mr, turns, out, sessions := setup(&pipeline.Result{Status: pipeline.StatusSuccess, Reply: "ok"})

	mr.Handle(inbound("remember this"))
	if sessions.Get(context.Background(), "slack:C1").Len() != 1 {
		t.Fatal("expected one message in session")
	}
	mr.Handle(inbound("/reset"))
	if n := sessions.Get(context.Background(), "slack:C1").Len(); n != 0 {
		t.Errorf("session has %d messages after /reset", n)
	}
	if len(turns.sessions) != 1 {
		t.Errorf("commands must not reach the pipeline")
	}

	mr.Handle(inbound("/image a fox"))
	mr.wg.Wait()
	mr.Close()

	sent := out.messages()
	last := sent[len(sent)-1]
	if last.ImageURL != "https://img.example/1.png" || last.Content != "Here it is: a fox" {
		t.Errorf("image follow-up = %+v", last)
	}
}

func TestHandleFollowsAutoLaunchedImages(t *testing.T) {
	mr, _, out, _ := setup(&pipeline.Result{
		Status:     pipeline.StatusSuccess,
		Reply:      "Look [Image: a storm]",
		Images:     []string{"a storm"},
		ImageTasks: []string{"img-2"},
	})
	defer mr.Close()
	mr.Handle(inbound("draw"))
	mr.wg.Wait()

	sent := out.messages()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[1].Content != "I couldn't make that picture: quota exceeded" {
		t.Errorf("follow-up = %q", sent[1].Content)
	}
}

func TestWatcherErrors(t *testing.T) {
	mr, _, out, _ := setup(nil)
	defer mr.Close()
	mr.watchImage(inbound("x"), "missing", "")
	mr.wg.Wait()
	sent := out.messages()
	if len(sent) != 1 || sent[0].Content != "I lost track of that picture." {
		t.Errorf("sent = %+v", sent)
	}
}
