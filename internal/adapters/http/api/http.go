// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/herbid/internal/adapters/mq/queue"
	"github.com/okian/herbid/internal/domain/augment"
	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/history"
	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/ranking"
	"github.com/okian/herbid/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PredictDependencies
	AugmentDependencies
	HerbDependencies
	ModelDependencies
	HistoryDependencies
	StatsProvider
}

// Entry mirrors one ranked candidate in responses.
type Entry = types.Entry

// Server wires HTTP routes for the recognition API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	predictHandler *PredictHandler
	augmentHandler *AugmentHandler
	herbHandler    *HerbHandler
	modelHandler   *ModelHandler
	historyHandler *HistoryHandler
}

// Limits bounds request sizes.
type Limits struct {
	MaxUploadBytes  int64
	MaxImagePixels  int64
	MaxHistoryLimit int
}

// UploadLimits bounds one image upload.
type UploadLimits struct {
	MaxBytes  int64
	MaxPixels int64
}

func (l Limits) uploads() UploadLimits {
	return UploadLimits{MaxBytes: l.MaxUploadBytes, MaxPixels: l.MaxImagePixels}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, limits Limits) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(deps),
		predictHandler: NewPredictHandler(deps, limits.uploads()),
		augmentHandler: NewAugmentHandler(deps, limits.uploads()),
		herbHandler:    NewHerbHandler(deps),
		modelHandler:   NewModelHandler(deps),
		historyHandler: NewHistoryHandler(deps, limits.MaxHistoryLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/predict", MetricsMiddleware(s.predictHandler.HandlePredict, "predict"))
	mux.HandleFunc("/augment", MetricsMiddleware(s.augmentHandler.HandleAugment, "augment"))
	mux.HandleFunc("/herbs", MetricsMiddleware(s.herbHandler.HandleSearch, "herbs"))
	mux.HandleFunc("/herbs/", MetricsMiddleware(s.herbHandler.HandleGet, "herb"))
	mux.HandleFunc("/model", MetricsMiddleware(s.modelHandler.HandleInfo, "model"))
	mux.HandleFunc("/model/load", MetricsMiddleware(s.modelHandler.HandleLoad, "model_load"))
	mux.HandleFunc("/model/dispose", MetricsMiddleware(s.modelHandler.HandleDispose, "model_dispose"))
	mux.HandleFunc("/history", MetricsMiddleware(s.historyHandler.HandleHistory, "history"))
	mux.HandleFunc("/feedback", MetricsMiddleware(s.historyHandler.HandleFeedback, "feedback"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps a pipeline error to its status and machine code.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (status int, code string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, ErrTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, preprocess.ErrDecode):
		return http.StatusBadRequest, "decode_error"
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMissingFile), errors.Is(err, history.ErrInvalidFeedback):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, queue.ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, classifier.ErrLoad):
		return http.StatusServiceUnavailable, "load_error"
	case errors.Is(err, classifier.ErrNotLoaded):
		return http.StatusServiceUnavailable, "model_not_loaded"
	case errors.Is(err, ranking.ErrIncompleteResult):
		return http.StatusBadGateway, "incomplete_result"
	case errors.Is(err, augment.ErrSurface):
		return http.StatusInternalServerError, "surface_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
