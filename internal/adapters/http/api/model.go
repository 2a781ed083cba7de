package api

import (
	"context"
	"net/http"

	"github.com/okian/herbid/internal/domain/classifier"
)

// ModelDependencies controls the classifier lifecycle.
type ModelDependencies interface {
	ModelInfo(ctx context.Context) (*classifier.Info, error)
	LoadModel(ctx context.Context) error
	DisposeModel(ctx context.Context)
}

// ModelHandler handles model lifecycle requests.
type ModelHandler struct {
	deps ModelDependencies
}

// NewModelHandler creates a new model handler.
func NewModelHandler(deps ModelDependencies) *ModelHandler {
	return &ModelHandler{deps: deps}
}

type modelStatus struct {
	Status string `json:"status"`
}

// HandleInfo handles GET /model requests.
func (h *ModelHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	const op = "api.model_info"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	info, err := h.deps.ModelInfo(r.Context())
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleLoad handles POST /model/load requests.
func (h *ModelHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	const op = "api.model_load"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := h.deps.LoadModel(r.Context()); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, modelStatus{Status: "loaded"})
}

// HandleDispose handles POST /model/dispose requests.
func (h *ModelHandler) HandleDispose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	h.deps.DisposeModel(r.Context())
	writeJSON(w, http.StatusOK, modelStatus{Status: "disposed"})
}
