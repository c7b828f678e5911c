package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestTransition(t *testing.T) {
	valid := [][2]Status{
		{StatusStarting, StatusConnecting},
		{StatusConnecting, StatusEnhancing},
		{StatusEnhancing, StatusGenerating},
		{StatusGenerating, StatusComplete},
		{StatusStarting, StatusError},
		{StatusGenerating, StatusError},
	}
	for _, v := range valid {
		if err := Transition(v[0], v[1]); err != nil {
			t.Errorf("%s → %s: %v", v[0], v[1], err)
		}
	}
	invalid := [][2]Status{
		{StatusStarting, StatusGenerating},
		{StatusComplete, StatusError},
		{StatusError, StatusStarting},
		{StatusEnhancing, StatusComplete},
	}
	for _, v := range invalid {
		if err := Transition(v[0], v[1]); err == nil {
			t.Errorf("%s → %s should be rejected", v[0], v[1])
		}
	}
}

func TestReferencesSelf(t *testing.T) {
	cases := map[string]bool{
		"draw me on a beach":     true,
		"My favourite cat":       true,
		"a portrait of myself":   true,
		"what i look like":       true,
		"some mountains at dawn": false,
		"an image of the moon":   false,
	}
	for in, want := range cases {
		if got := ReferencesSelf(in); got != want {
			t.Errorf("ReferencesSelf(%q) = %v, want %v", in, got, want)
		}
	}
}

type fakeProvider struct {
	mu       sync.Mutex
	prompts  []string
	failAt   string
	url      string
	block    chan struct{}
	enhanced string
}

func (f *fakeProvider) Connect(context.Context) error {
	if f.failAt == "connect" {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeProvider) Enhance(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.failAt == "enhance" {
		return "", errors.New("enhancer down")
	}
	return f.enhanced, nil
}

func (f *fakeProvider) Generate(context.Context, string) (string, error) {
	return f.url, nil
}

func TestLaunchAndWait(t *testing.T) {
	fp := &fakeProvider{url: "https://img/1.png", enhanced: "a vivid fox"}
	o := NewOrchestrator(fp, DefaultConfig(), zap.NewNop())
	defer o.Close()

	id, err := o.Launch(context.Background(), "draw me with a fox")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	res, err := o.Wait(context.Background(), id, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != StatusComplete || !res.IsCompleted || res.IsRunning {
		t.Fatalf("result = %+v", res)
	}
	if res.Result == nil || res.Result.ImageURL != "https://img/1.png" || res.Result.EnhancedPrompt != "a vivid fox" {
		t.Errorf("payload = %+v", res.Result)
	}
	if len(fp.prompts) != 1 || !strings.HasPrefix(fp.prompts[0], DefaultSelfDescription+", ") {
		t.Errorf("self description not injected: %q", fp.prompts)
	}

	again, _ := o.Poll(id)
	if again.Result == nil || again.Result.ImageURL != res.Result.ImageURL {
		t.Errorf("repeated poll should return the stored payload")
	}
}

func TestLaunchFailures(t *testing.T) {
	cases := map[string]*fakeProvider{
		"connect":  {failAt: "connect"},
		"enhance":  {failAt: "enhance"},
		"no image": {enhanced: "x"},
	}
	for name, fp := range cases {
		t.Run(name, func(t *testing.T) {
			o := NewOrchestrator(fp, DefaultConfig(), zap.NewNop())
			defer o.Close()
			id, err := o.Launch(context.Background(), "mountains")
			if err != nil {
				t.Fatalf("launch: %v", err)
			}
			res, err := o.Wait(context.Background(), id, 5*time.Millisecond)
			if err != nil {
				t.Fatalf("wait: %v", err)
			}
			if res.Status != StatusError || res.Error == "" || !res.IsCompleted {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestPollUnknown(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{}, DefaultConfig(), zap.NewNop())
	defer o.Close()
	if _, err := o.Poll("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("got %v, want ErrTaskNotFound", err)
	}
	if _, err := o.Launch(context.Background(), "   "); !errors.Is(err, ErrEmptyDescription) {
		t.Errorf("got %v, want ErrEmptyDescription", err)
	}
}

func TestWaitCancelLeavesTaskRunning(t *testing.T) {
	fp := &fakeProvider{block: make(chan struct{}), enhanced: "e", url: "u"}
	o := NewOrchestrator(fp, DefaultConfig(), zap.NewNop())
	defer o.Close()

	id, _ := o.Launch(context.Background(), "sky")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := o.Wait(ctx, id, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if !res.IsRunning {
		t.Errorf("task should still be running: %+v", res)
	}

	close(fp.block)
	res, err = o.Wait(context.Background(), id, 5*time.Millisecond)
	if err != nil || res.Status != StatusComplete {
		t.Errorf("task should finish after waiter left: %+v, %v", res, err)
	}
}

func TestEviction(t *testing.T) {
	o := NewOrchestrator(&fakeProvider{enhanced: "e", url: "u"}, Config{Retention: time.Minute}, zap.NewNop())
	defer o.Close()

	id, _ := o.Launch(context.Background(), "sea")
	if _, err := o.Wait(context.Background(), id, 5*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	o.wg.Wait()

	o.mu.Lock()
	o.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	o.mu.Unlock()
	if _, err := o.Poll(id); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("finished task should be evicted, got %v", err)
	}
}

func TestRunwareProvider(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer rw-key" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errors":[{"code":"invalidApiKey","message":"Invalid API key"}]}`)
			return
		}
		var tasks []map[string]any
		if err := json.NewDecoder(r.Body).Decode(&tasks); err != nil || len(tasks) != 1 {
			t.Errorf("bad request body: %v", err)
			return
		}
		task := tasks[0]
		typ := task["taskType"].(string)
		seen = append(seen, typ)
		switch typ {
		case "authentication":
			fmt.Fprint(w, `{"data":[{"taskType":"authentication","connectionSessionUUID":"s"}]}`)
		case "promptEnhance":
			if task["promptMaxLength"].(float64) != 77 {
				t.Errorf("promptMaxLength = %v", task["promptMaxLength"])
			}
			fmt.Fprint(w, `{"data":[{"taskType":"promptEnhance","text":"enhanced fox"}]}`)
		case "imageInference":
			if task["model"] != "civitai:101055@128078" || task["negativePrompt"] != "blurry, distorted" {
				t.Errorf("inference task = %v", task)
			}
			if task["width"].(float64) != 512 || task["height"].(float64) != 512 {
				t.Errorf("size = %vx%v", task["width"], task["height"])
			}
			fmt.Fprint(w, `{"data":[{"taskType":"imageInference","imageURL":"https://im.runware.ai/x.png"}]}`)
		}
	}))
	defer srv.Close()

	p := NewRunwareProvider(RunwareConfig{Endpoint: srv.URL, APIKey: "rw-key"}, zap.NewNop())
	ctx := context.Background()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	enhanced, err := p.Enhance(ctx, "fox")
	if err != nil || enhanced != "enhanced fox" {
		t.Fatalf("enhance = %q, %v", enhanced, err)
	}
	url, err := p.Generate(ctx, enhanced)
	if err != nil || url != "https://im.runware.ai/x.png" {
		t.Fatalf("generate = %q, %v", url, err)
	}
	if strings.Join(seen, ",") != "authentication,promptEnhance,imageInference" {
		t.Errorf("task order = %v", seen)
	}

	bad := NewRunwareProvider(RunwareConfig{Endpoint: srv.URL, APIKey: "wrong"}, zap.NewNop())
	if err := bad.Connect(ctx); err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("got %v, want API error", err)
	}
	if err := NewRunwareProvider(RunwareConfig{Endpoint: srv.URL}, zap.NewNop()).Connect(ctx); err == nil {
		t.Errorf("missing key should fail")
	}
}
