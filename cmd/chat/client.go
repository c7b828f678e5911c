package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// client talks to a running Nyx server.
type client struct {
	base    string
	session string
	http    *http.Client
}

func newClient(base, session string, timeout time.Duration) *client {
	return &client{base: base, session: session, http: &http.Client{Timeout: timeout}}
}

type turn struct {
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	ResponseID string   `json:"response_id"`
	Reply      string   `json:"reply"`
	Thoughts   []string `json:"thoughts"`
	Images     []string `json:"images"`
	Mood       string   `json:"mood"`
	ImageTasks []string `json:"image_tasks,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type record struct {
	Type       string `json:"memory_type"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Importance int    `json:"importance"`
	IsExpired  bool   `json:"is_expired"`
}

type hit struct {
	Record record  `json:"memory"`
	Score  float32 `json:"score"`
}

type imageStatus struct {
	ID          string `json:"task_id"`
	Status      string `json:"status"`
	Log         string `json:"log,omitempty"`
	Error       string `json:"error,omitempty"`
	IsCompleted bool   `json:"is_completed"`
	Result      *struct {
		ImageURL string `json:"image_url"`
	} `json:"result,omitempty"`
}

func (c *client) chat(ctx context.Context, text string) (*turn, error) {
	var out turn
	err := c.do(ctx, http.MethodPost, "/api/chat", map[string]string{
		"user_message": text,
		"session_id":   c.session,
	}, &out)
	return &out, err
}

func (c *client) history(ctx context.Context, limit int) ([]message, error) {
	q := url.Values{"session": {c.session}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, &out)
	return out.Messages, err
}

func (c *client) clearHistory(ctx context.Context) error {
	q := url.Values{"session": {c.session}}
	return c.do(ctx, http.MethodPost, "/api/history/clear?"+q.Encode(), nil, nil)
}

func (c *client) memories(ctx context.Context, typ string, important bool, limit int) ([]record, error) {
	path := "/api/memories"
	q := url.Values{}
	if important {
		path = "/api/memories/important"
		q.Set("limit", strconv.Itoa(limit))
	} else if typ != "" {
		q.Set("type", typ)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []record
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *client) search(ctx context.Context, query string, limit int) (string, []hit, error) {
	q := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var out struct {
		Mode    string `json:"mode"`
		Results []hit  `json:"results"`
	}
	err := c.do(ctx, http.MethodGet, "/api/memories/semantic?"+q.Encode(), nil, &out)
	return out.Mode, out.Results, err
}

func (c *client) mood(ctx context.Context) (string, error) {
	var out struct {
		Mood string `json:"mood"`
	}
	err := c.do(ctx, http.MethodGet, "/api/mood", nil, &out)
	return out.Mood, err
}

func (c *client) launchImage(ctx context.Context, description string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/images", map[string]string{"description": description}, &out)
	return out.TaskID, err
}

func (c *client) pollImage(ctx context.Context, id string) (*imageStatus, error) {
	var out imageStatus
	err := c.do(ctx, http.MethodGet, "/api/images/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// waitImage polls until the task finishes, calling progress on every
// status change.
func (c *client) waitImage(ctx context.Context, id string, interval time.Duration, progress func(*imageStatus)) (*imageStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := ""
	for {
		st, err := c.pollImage(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status != last && progress != nil {
			progress(st)
			last = st.Status
		}
		if st.IsCompleted {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
