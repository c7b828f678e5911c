// Package api exposes the companion over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/conversation"
	"github.com/nidhogg/nyx/internal/gateway"
	"github.com/nidhogg/nyx/internal/imagegen"
	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/mood"
	"github.com/nidhogg/nyx/internal/pipeline"
	"github.com/nidhogg/nyx/internal/rag"
)

// Chatter runs turns and serves the reply cache.
type Chatter interface {
	Run(ctx context.Context, sess *conversation.Session, input string) *pipeline.Result
	Cached(ctx context.Context, id string) (*pipeline.CacheEntry, error)
	ClearCache(ctx context.Context) (int, error)
}

// Images launches and polls image tasks.
type Images interface {
	Launch(ctx context.Context, description string) (string, error)
	Poll(id string) (imagegen.PollResult, error)
}

// Deps are the handler's collaborators. Images, Search, Pruner, Gateway and
// REST may be nil; their routes then answer 503 or are not mounted.
type Deps struct {
	Chat     Chatter
	Sessions *conversation.Manager
	Store    *memory.Store
	Mood     *mood.Tracker
	Search   *rag.Searcher
	Pruner   *memory.Pruner
	Images   Images
	Gateway  *gateway.Gateway
	REST     *gateway.RESTAdapter
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps        Deps
	corsOrigins []string
	logger      *zap.Logger
}

// NewHandler creates a new API handler. An empty corsOrigins allows any origin.
func NewHandler(deps Deps, corsOrigins []string, logger *zap.Logger) *Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Handler{deps: deps, corsOrigins: corsOrigins, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/chat", h.chat)
		r.Get("/history", h.history)
		r.Post("/history/clear", h.clearHistory)
		r.Get("/sessions", h.listSessions)

		r.Get("/responses/{id}", h.getResponse)
		r.Delete("/responses", h.clearResponses)

		// Memory routes; fixed paths before the {type}/{key} pattern
		r.Get("/memories", h.listMemories)
		r.Post("/memories", h.saveMemory)
		r.Get("/memories/recent", h.recentMemories)
		r.Get("/memories/important", h.importantMemories)
		r.Get("/memories/semantic", h.semanticMemories)
		r.Post("/memories/prune", h.pruneMemories)
		r.Get("/memories/{type}/{key}", h.getMemory)
		r.Delete("/memories/{type}/{key}", h.expireMemory)

		r.Get("/mood", h.currentMood)
		r.Get("/mood/history", h.moodHistory)

		r.Post("/images", h.launchImage)
		r.Get("/images/{id}", h.pollImage)

		// Gateway routes
		r.Get("/gateway/status", h.gatewayStatus)
		if h.deps.REST != nil {
			r.Mount("/gateway/rest", h.deps.REST.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"storage": map[string]any{
			"backend":  h.deps.Store.BackendName(),
			"degraded": h.deps.Store.Degraded(),
		},
	}
	if h.deps.Search != nil {
		resp["search"] = h.deps.Search.Mode()
	}
	if h.deps.Gateway != nil {
		resp["gateways"] = h.deps.Gateway.Adapters()
	}
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id,omitempty"`
}

// chat always answers 200 once the body parses; turn failures are carried
// in the result's status field.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = sessionID(r)
	}
	sess := h.deps.Sessions.Get(r.Context(), req.SessionID)
	result := h.deps.Chat.Run(r.Context(), sess, req.UserMessage)
	if result.Status == pipeline.StatusError {
		h.logger.Warn("chat turn failed", zap.String("session", sess.ID()), zap.String("error", result.Error))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := h.deps.Sessions.Get(r.Context(), sessionID(r))
	msgs := sess.History(limit)
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID(),
		"messages":   msgs,
	})
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Sessions.Get(r.Context(), sessionID(r))
	unlock := sess.BeginTurn()
	sess.Clear(r.Context())
	unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sess.ID()})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Sessions.IDs())
}

func (h *Handler) getResponse(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.Chat.Cached(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, pipeline.ErrCacheMiss) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) clearResponses(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Chat.ClearCache(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *Handler) currentMood(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mood": h.deps.Mood.Current(r.Context())})
}

func (h *Handler) moodHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.deps.Mood.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []mood.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeJSON(w, http.StatusOK, []gateway.AdapterStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

// sessionID picks the conversation from ?session= or the X-Session-ID header.
func sessionID(r *http.Request) string {
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	if id := r.Header.Get("X-Session-ID"); id != "" {
		return id
	}
	return conversation.DefaultSessionID
}

func intParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name + ": " + s)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
