package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform string
	handler  MessageHandler
	sent     []*OutboundMessage
}

func (f *fakeAdapter) Platform() string { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return nil }
func (f *fakeAdapter) OnMessage(h MessageHandler) { f.handler = h }
func (f *fakeAdapter) Close() error { return nil }
func (f *fakeAdapter) Status() AdapterStatus { return AdapterStatus{Platform: f.platform, Connected: true} }
func (f *fakeAdapter) Send(_ context.Context, m *OutboundMessage) error {
	f.sent = append(f.sent, m)
	return nil
}

func TestGatewayRouting(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &fakeAdapter{platform: "slack"}
	b := &fakeAdapter{platform: "discord"}
	gw.Register(a)
	gw.Register(b)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	a.handler(&InboundMessage{Platform: "slack", ChannelID: "C1", Content: "hi"})
	if got == nil || got.SessionID() != "slack:C1" {
		t.Fatalf("handler got %+v", got)
	}

	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "discord", ChannelID: "D1", Content: "yo"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(b.sent) != 1 || len(a.sent) != 0 {
		t.Errorf("sent to wrong adapter: slack=%d discord=%d", len(a.sent), len(b.sent))
	}
	if err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"}); err == nil {
		t.Error("expected error for unknown platform")
	}

	statuses := gw.StatusAll()
	if len(statuses) != 2 || statuses[0].Platform != "discord" {
		t.Errorf("statuses = %+v", statuses)
	}
	if names := gw.Adapters(); names[0] != "discord" || names[1] != "slack" {
		t.Errorf("adapters = %v", names)
	}
}

func TestStripMention(t *testing.T) {
	cases := []struct{ in, bot, want string }{
		{"<@U123> hello there", "U123", "hello there"},
		{"hey <@!42>  what's up", "42", "hey what's up"},
		{"<@U999> ping", "U123", "<@U999> ping"},
		{"  plain  ", "", "plain"},
	}
	for _, c := range cases {
		if got := StripMention(c.in, c.bot); got != c.want {
			t.Errorf("StripMention(%q, %q) = %q, want %q", c.in, c.bot, got, c.want)
		}
	}
}

func TestParseWebhookURL(t *testing.T) {
	id, token, err := parseWebhookURL("https://discord.com/api/webhooks/123/abc-tok")
	if err != nil || id != "123" || token != "abc-tok" {
		t.Errorf("got %q %q %v", id, token, err)
	}
	if _, _, err := parseWebhookURL("https://discord.com/"); err == nil {
		t.Error("expected error for url without id/token")
	}
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	gw.Register(rest)
	gw.SetHandler(func(m *InboundMessage) {
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  m.Platform,
			ChannelID: m.ChannelID,
			Content:   "echo: " + m.Content,
			ReplyTo:   m.ReplyTo,
		})
	})
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"channel_id": "room", "content": "hello"})
	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out OutboundMessage
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Content != "echo: hello" || out.ChannelID != "room" {
		t.Errorf("reply = %+v", out)
	}
	if rest.Status().Details != "pending=0" {
		t.Errorf("pending request not cleaned up: %s", rest.Status().Details)
	}
}

func TestRESTAdapterErrors(t *testing.T) {
	rest := NewRESTAdapter(50*time.Millisecond, zap.NewNop())
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{`)))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{"content":""}`)))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// No handler answers, so the caller times out.
	resp, _ = http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{"content":"hi"}`)))
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("timeout status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if err := rest.Send(context.Background(), &OutboundMessage{ReplyTo: "gone"}); err == nil {
		t.Error("expected error sending to unknown request")
	}
}
