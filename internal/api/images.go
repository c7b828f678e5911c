package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/imagegen"
)

type imageRequest struct {
	Description string `json:"description"`
}

func (h *Handler) launchImage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Images == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation is disabled")
		return
	}
	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.deps.Images.Launch(r.Context(), req.Description)
	if errors.Is(err, imagegen.ErrEmptyDescription) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("image launch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *Handler) pollImage(w http.ResponseWriter, r *http.Request) {
	if h.deps.Images == nil {
		writeError(w, http.StatusServiceUnavailable, "image generation is disabled")
		return
	}
	res, err := h.deps.Images.Poll(chi.URLParam(r, "id"))
	if errors.Is(err, imagegen.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
