//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("NYX_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// messageRequest is the payload sent to the REST gateway.
type messageRequest struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Content   string `json:"content"`
}

// messageResponse is the outbound message returned by the REST gateway.
type messageResponse struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url,omitempty"`
}

// sendMessage POSTs a chat message through the REST gateway and returns the
// reply content. Every test uses its own channel so sessions do not mix.
func sendMessage(t *testing.T, content string) string {
	t.Helper()

	body, err := json.Marshal(messageRequest{
		ChannelID: "smoke-" + t.Name(),
		UserID:    "smoke-test",
		UserName:  "smokebot",
		Content:   content,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(
		baseURL+"/api/gateway/rest/message",
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		t.Fatalf("POST /api/gateway/rest/message: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var msg messageResponse
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
	}
	return msg.Content
}

func TestSlashHelp(t *testing.T) {
	reply := sendMessage(t, "/help")
	if !strings.Contains(reply, "/reset") || !strings.Contains(reply, "/mood") {
		t.Errorf("expected help to list /reset and /mood, got: %s", reply)
	}
	t.Logf("reply: %.200s", reply)
}

func TestSlashMood(t *testing.T) {
	reply := sendMessage(t, "/mood")
	if !strings.HasPrefix(reply, "Current mood:") {
		t.Errorf("expected current mood, got: %s", reply)
	}
	t.Logf("reply: %.200s", reply)
}

func TestSlashStatus(t *testing.T) {
	reply := sendMessage(t, "/status")
	if !strings.Contains(reply, "rest") {
		t.Errorf("expected the rest adapter in status, got: %s", reply)
	}
	t.Logf("reply: %.200s", reply)
}

func TestRememberAndForget(t *testing.T) {
	reply := sendMessage(t, "/remember preference smoke_color teal")
	if !strings.Contains(reply, "Remembered") {
		t.Fatalf("expected confirmation, got: %s", reply)
	}
	reply = sendMessage(t, "/memories teal")
	if !strings.Contains(reply, "smoke_color") {
		t.Errorf("expected saved memory in search, got: %s", reply)
	}
	reply = sendMessage(t, "/forget preference smoke_color")
	if !strings.Contains(reply, "Forgot") {
		t.Errorf("expected forget confirmation, got: %s", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	reply := sendMessage(t, "/teleport")
	if !strings.Contains(reply, "Unknown command") {
		t.Errorf("expected unknown command reply, got: %s", reply)
	}
}

func TestPlainMessage(t *testing.T) {
	reply := sendMessage(t, "Hello, please introduce yourself")
	if len(reply) <= 10 {
		t.Errorf("expected meaningful response (len > 10), got len=%d: %s", len(reply), reply)
	}
	t.Logf("reply: %.300s", reply)
}

func TestChatEndpoint(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"user_message": "What do you remember about me?", "session_id": "smoke-chat"})
	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(baseURL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status     string `json:"status"`
		Error      string `json:"error"`
		ResponseID string `json:"response_id"`
		Reply      string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("turn failed: %s", result.Error)
	}

	cached, err := http.Get(baseURL + "/api/responses/" + result.ResponseID)
	if err != nil {
		t.Fatalf("GET cached response: %v", err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusOK {
		t.Errorf("expected cached response, got %d", cached.StatusCode)
	}
}
