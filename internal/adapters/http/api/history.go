package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/herbid/internal/domain/history"
	"github.com/okian/herbid/internal/domain/model"
)

// HistoryDependencies exposes recognition history and feedback.
type HistoryDependencies interface {
	History(ctx context.Context, limit int) []model.RecognitionRecord
	Feedback(ctx context.Context, limit int) []model.Feedback
	SubmitFeedback(ctx context.Context, fb model.Feedback) (model.Feedback, error)
	Stats(ctx context.Context) history.Stats
}

// HistoryHandler handles history and feedback requests.
type HistoryHandler struct {
	deps     HistoryDependencies
	maxLimit int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(deps HistoryDependencies, maxLimit int) *HistoryHandler {
	return &HistoryHandler{deps: deps, maxLimit: maxLimit}
}

// feedbackRequest mirrors the OpenAPI schema for POST /feedback.
type feedbackRequest struct {
	PredictionID   string `json:"prediction_id"`
	ActualHerbName string `json:"actual_herb_name"`
	IsCorrect      *bool  `json:"is_correct"`
	UserRating     int    `json:"user_rating"`
	Comments       string `json:"comments"`
}

// HandleHistory handles GET /history?limit=N requests.
func (h *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.history"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n, err := parseLimit(r, h.maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.History(r.Context(), n))
}

// HandleFeedback handles POST /feedback, and GET /feedback?limit=N listings.
func (h *HistoryHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	const op = "api.feedback"
	switch r.Method {
	case http.MethodGet:
		n, err := parseLimit(r, h.maxLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, h.deps.Feedback(r.Context(), n))
	case http.MethodPost:
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		fb, err := h.deps.SubmitFeedback(r.Context(), model.Feedback{
			PredictionID:   req.PredictionID,
			ActualHerbName: req.ActualHerbName,
			Verdict:        req.IsCorrect,
			UserRating:     req.UserRating,
			Comments:       req.Comments,
		})
		if err != nil {
			writeFailure(w, Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusCreated, fb)
	default:
		http.NotFound(w, r)
	}
}
