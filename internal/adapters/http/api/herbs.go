package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/herbid/internal/domain/catalog"
)

// HerbDependencies exposes the reference catalog.
type HerbDependencies interface {
	Search(ctx context.Context, query string) []catalog.Entry
	Herb(ctx context.Context, id string) (catalog.Entry, error)
}

// HerbHandler handles catalog requests.
type HerbHandler struct {
	deps HerbDependencies
}

// NewHerbHandler creates a new herb handler.
func NewHerbHandler(deps HerbDependencies) *HerbHandler {
	return &HerbHandler{deps: deps}
}

// HandleSearch handles GET /herbs?q= requests.
func (h *HerbHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Search(r.Context(), r.URL.Query().Get("q")))
}

// HandleGet handles GET /herbs/{id} requests.
func (h *HerbHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_herb"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/herbs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	e, err := h.deps.Herb(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}
