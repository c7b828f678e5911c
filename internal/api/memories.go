package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/nyx/internal/memory"
	"github.com/nidhogg/nyx/internal/rag"
)

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	f := memory.Filter{ActiveOnly: r.URL.Query().Get("include_expired") != "true"}
	if s := r.URL.Query().Get("type"); s != "" {
		typ, err := memory.ParseType(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Type = typ
	}
	records, err := h.deps.Store.Search(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRecords(w, records)
}

type saveMemoryRequest struct {
	Type       string `json:"memory_type"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	Importance int    `json:"importance,omitempty"`
	Source     string `json:"source,omitempty"`
}

func (h *Handler) saveMemory(w http.ResponseWriter, r *http.Request) {
	var req saveMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	typ, err := memory.ParseType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	var opts []memory.SaveOption
	if req.Importance != 0 {
		opts = append(opts, memory.WithImportance(req.Importance))
	}
	if req.Source != "" {
		opts = append(opts, memory.WithSource(req.Source))
	}
	if err := h.deps.Store.Save(r.Context(), typ, req.Key, req.Value, opts...); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec, err := h.deps.Store.Get(r.Context(), typ, req.Key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	typ, err := memory.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.deps.Store.Get(r.Context(), typ, chi.URLParam(r, "key"))
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) expireMemory(w http.ResponseWriter, r *http.Request) {
	typ, err := memory.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	err = h.deps.Store.Expire(r.Context(), typ, key)
	if errors.Is(err, memory.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "expired", "memory_type": string(typ), "key": key})
}

func (h *Handler) recentMemories(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.deps.Store.Recent(r.Context(), days, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRecords(w, records)
}

func (h *Handler) importantMemories(w http.ResponseWriter, r *http.Request) {
	min, err := intParam(r, "min", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.deps.Store.Important(r.Context(), min, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRecords(w, records)
}

func (h *Handler) semanticMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "memory search is not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intParam(r, "limit", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hits, err := h.deps.Search.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if hits == nil {
		hits = []rag.Hit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.deps.Search.Mode(),
		"results": hits,
	})
}

func (h *Handler) pruneMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pruner == nil {
		writeError(w, http.StatusServiceUnavailable, "memory pruning is not configured")
		return
	}
	res, err := h.deps.Pruner.RunNow(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeRecords(w http.ResponseWriter, records []memory.Record) {
	if records == nil {
		records = []memory.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
