package api

import (
	"context"
	"image"
	"net/http"

	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/internal/domain/ranking"
)

// PredictDependencies runs a recognition.
type PredictDependencies interface {
	Predict(ctx context.Context, img image.Image, format string) (model.Metrics, *model.RecognitionRecord, error)
	Herb(ctx context.Context, id string) (catalog.Entry, error)
}

// PredictHandler handles recognition requests.
type PredictHandler struct {
	deps   PredictDependencies
	limits UploadLimits
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps PredictDependencies, limits UploadLimits) *PredictHandler {
	return &PredictHandler{deps: deps, limits: limits}
}

type predictResponse struct {
	RecordID         string         `json:"record_id,omitempty"`
	Accuracy         float64        `json:"accuracy"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	MemoryBytes      int64          `json:"memory_bytes"`
	Substituted      int            `json:"substituted"`
	Format           string         `json:"format"`
	Predictions      []Entry        `json:"predictions"`
	Features         []float32      `json:"features,omitempty"`
	Top              *catalog.Entry `json:"top,omitempty"`
}

// HandlePredict handles POST /predict with a multipart "image" field or a raw image body.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	img, format, err := readImage(w, r, h.limits)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}

	m, rec, err := h.deps.Predict(r.Context(), img, format)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}

	resp := predictResponse{
		Accuracy:         m.Accuracy,
		ProcessingTimeMS: float64(m.ProcessingTime.Microseconds()) / 1000,
		MemoryBytes:      m.MemoryBytes,
		Substituted:      m.Substituted,
		Format:           format,
		Predictions:      ranking.Entries(m.Predictions),
	}
	if rec != nil {
		resp.RecordID = rec.ID
	}
	if top, ok := m.Top(); ok {
		resp.Features = top.Features
		if top.Known {
			if e, err := h.deps.Herb(r.Context(), top.HerbID); err == nil {
				resp.Top = &e
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
