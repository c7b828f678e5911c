package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRESTTimeout bounds how long a REST caller waits for its reply.
const DefaultRESTTimeout = 60 * time.Second

// RESTAdapter implements GatewayAdapter for HTTP-based message ingestion.
// Each request is an inbound message; the response body is the first reply
// routed back to it. Callers pick channel_id to keep a conversation going
// across requests.
type RESTAdapter struct {
	handler   MessageHandler
	pending   map[string]chan *OutboundMessage // request id -> waiting caller
	timeout   time.Duration
	connected bool
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}
	return &RESTAdapter{
		pending: make(map[string]chan *OutboundMessage),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *RESTAdapter) OnMessage(h MessageHandler) { a.handler = h }

func (a *RESTAdapter) Close() error { return nil }

// Status reports whether the adapter is serving and how many callers wait.
func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{
		Platform:  "rest",
		Connected: a.connected,
		Details:   fmt.Sprintf("pending=%d", len(a.pending)),
	}
}

// Send delivers a message to the request it replies to.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.pending[msg.ReplyTo]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no pending request: %s", msg.ReplyTo)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("request %s already answered", msg.ReplyTo)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

// handleMessage accepts an inbound message via HTTP and waits for the response.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channel_id"`
		UserID    string `json:"user_id"`
		UserName  string `json:"user_name"`
		Content   string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = uuid.New().String()
	}

	requestID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.pending[requestID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, requestID)
		a.mu.Unlock()
	}()

	if a.handler != nil {
		go a.handler(&InboundMessage{
			Platform:  "rest",
			ChannelID: req.ChannelID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Content:   req.Content,
			Timestamp: time.Now(),
			ReplyTo:   requestID,
		})
	}

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-timer.C:
		writeJSONError(w, http.StatusGatewayTimeout, "response timeout")
	case <-r.Context().Done():
		return
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
