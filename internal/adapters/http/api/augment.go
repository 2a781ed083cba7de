package api

import (
	"context"
	"image"
	"net/http"

	"github.com/okian/herbid/internal/domain/augment"
)

// AugmentDependencies renders display variants.
type AugmentDependencies interface {
	Augment(ctx context.Context, img image.Image) (augment.Set, error)
}

// AugmentHandler handles augmentation requests.
type AugmentHandler struct {
	deps   AugmentDependencies
	limits UploadLimits
}

// NewAugmentHandler creates a new augment handler.
func NewAugmentHandler(deps AugmentDependencies, limits UploadLimits) *AugmentHandler {
	return &AugmentHandler{deps: deps, limits: limits}
}

type variantResponse struct {
	Name    string `json:"name"`
	DataURL string `json:"data_url"`
}

// HandleAugment handles POST /augment and returns four PNG data URLs in fixed order.
func (h *AugmentHandler) HandleAugment(w http.ResponseWriter, r *http.Request) {
	const op = "api.augment"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	img, _, err := readImage(w, r, h.limits)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	set, err := h.deps.Augment(r.Context(), img)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}

	out := make([]variantResponse, 0, len(set))
	for _, v := range set {
		url, err := augment.DataURL(v.Image)
		if err != nil {
			writeFailure(w, WrapKind(op, augment.ErrSurface, err))
			return
		}
		out = append(out, variantResponse{Name: v.Name, DataURL: url})
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}
