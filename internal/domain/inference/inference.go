// Package inference sequences one prediction: preprocess, forward pass,
// ranking and metrics assembly.
package inference

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/okian/herbid/internal/domain/augment"
	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/ranking"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

// Model is the classifier surface the orchestrator needs.
type Model interface {
	Classify(ctx context.Context, in *tensor.Tensor) (classifier.Scores, error)
}

// Orchestrator is stateless between calls and safe for concurrent use.
type Orchestrator struct {
	model   Model
	catalog *catalog.Catalog
	tracker *tensor.Tracker
	decoder *ranking.Decoder
	logger  logger.Logger
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDecoder replaces the default strict decoder.
func WithDecoder(d *ranking.Decoder) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.decoder = d
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now for timing.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator. tr must be the tracker the model allocates
// from so memory readings include parameters.
func New(m Model, cat *catalog.Catalog, tr *tensor.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:   m,
		catalog: cat,
		tracker: tr,
		logger:  logger.Get().Named("inference"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.decoder == nil {
		o.decoder = ranking.NewDecoder()
	}
	return o
}

// Predict classifies img. Preprocessing and model errors are returned as-is.
func (o *Orchestrator) Predict(ctx context.Context, img image.Image) (model.Metrics, error) {
	start := o.now()

	in, err := preprocess.Preprocess(o.tracker, img)
	if err != nil {
		return model.Metrics{}, o.fail(ctx, err)
	}
	defer in.Release()
	metrics.RecordPreprocessLatency(o.now().Sub(start))

	scores, err := o.model.Classify(ctx, in)
	if err != nil {
		return model.Metrics{}, o.fail(ctx, err)
	}

	res, err := o.decoder.Decode(ctx, scores.Values, scores.Labels, o.catalog)
	if err != nil {
		return model.Metrics{}, o.fail(ctx, err)
	}

	out := model.Metrics{
		Accuracy:       res.Accuracy,
		ProcessingTime: o.now().Sub(start),
		MemoryBytes:    o.tracker.Bytes(),
		Predictions:    res.Predictions,
		Substituted:    res.Substituted,
	}
	metrics.RecordPrediction(out.ProcessingTime, out.Accuracy)
	metrics.UpdateTensorMemory(o.tracker.Bytes(), o.tracker.Count())
	if top, ok := out.Top(); ok {
		o.logger.Debug(ctx, "prediction complete",
			logger.String("herb_id", top.HerbID),
			logger.Float64("confidence", top.Confidence),
			logger.Duration("took", out.ProcessingTime))
	}
	return out, nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	kind := Kind(err)
	metrics.RecordPredictionError(kind)
	metrics.RecordErrorByComponent("inference", kind)
	o.logger.Debug(ctx, "prediction failed", logger.String("kind", kind), logger.Error(err))
	return err
}

// Kind names the error class of a pipeline failure.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, preprocess.ErrDecode):
		return "decode"
	case errors.Is(err, classifier.ErrNotLoaded):
		return "not_loaded"
	case errors.Is(err, classifier.ErrShape):
		return "shape"
	case errors.Is(err, ranking.ErrIncompleteResult):
		return "incomplete_result"
	case errors.Is(err, augment.ErrSurface):
		return "surface"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
