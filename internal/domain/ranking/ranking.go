// Package ranking turns raw class scores into ranked, catalog-joined predictions.
package ranking

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/internal/domain/types"
	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

const (
	defaultSeed          = 42
	defaultFeatureLength = 10

	// Synthetic confidences fall in [fallbackMin, fallbackMin+fallbackSpan).
	fallbackMin  = 0.7
	fallbackSpan = 0.3
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithTolerant substitutes synthetic confidences for missing or non-finite
// scores instead of failing with ErrIncompleteResult.
func WithTolerant(tolerant bool) Option {
	return func(d *Decoder) { d.tolerant = tolerant }
}

// WithSeed seeds the substitution generator.
func WithSeed(seed int64) Option {
	return func(d *Decoder) {
		d.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible substitutions
	}
}

// WithFeatureLength sets how many raw scores are copied into each candidate.
func WithFeatureLength(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.featureLength = n
		}
	}
}

// WithLogger sets the decoder logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// Result is the decoded form of one score vector.
type Result struct {
	Predictions []model.Prediction
	Accuracy    float64
	Substituted int
}

// Decoder joins scores to the catalog and ranks them. It keeps no state
// between calls apart from the substitution generator.
type Decoder struct {
	tolerant      bool
	featureLength int
	logger        logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDecoder creates a strict decoder unless WithTolerant(true) is given.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		featureLength: defaultFeatureLength,
		rng:           rand.New(rand.NewSource(defaultSeed)), //nolint:gosec // reproducible substitutions
		logger:        logger.Get().Named("ranking"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tolerant reports whether substitution is enabled.
func (d *Decoder) Tolerant() bool { return d.tolerant }

// Decode pairs raw[i] with labels[i], joins each label to cat by identifier,
// handles missing or non-finite scores and sorts by descending confidence,
// keeping label order on ties.
func (d *Decoder) Decode(ctx context.Context, raw []float32, labels []classifier.Label, cat *catalog.Catalog) (Result, error) {
	if len(labels) == 0 {
		return Result{}, fmt.Errorf("%w: no class labels", ErrIncompleteResult)
	}
	if len(raw) != len(labels) && !d.tolerant {
		return Result{}, fmt.Errorf("%w: %d scores for %d labels", ErrIncompleteResult, len(raw), len(labels))
	}

	features := append([]float32(nil), raw[:min(d.featureLength, len(raw))]...)
	preds := make([]model.Prediction, len(labels))
	substituted := 0
	for i, label := range labels {
		conf, ok := score(raw, i)
		if !ok {
			if !d.tolerant {
				return Result{}, fmt.Errorf("%w: score %d (%s) is missing or not finite", ErrIncompleteResult, i, label.ID)
			}
			conf = d.fallback()
			substituted++
			d.logger.Debug(ctx, "substituted score", logger.Int("index", i), logger.String("herb_id", label.ID),
				logger.Float64("confidence", conf))
		}

		p := model.Prediction{
			ClassIndex:  i,
			HerbID:      label.ID,
			Name:        label.Name,
			Confidence:  conf,
			Features:    features,
			Substituted: !ok,
		}
		if cat != nil {
			if e, found := cat.Lookup(label.ID); found {
				p.Name, p.Known = e.Name, true
			}
		}
		preds[i] = p
	}
	if substituted > 0 {
		metrics.RecordScoreSubstitutions(substituted)
		d.logger.Warn(ctx, "scores substituted in tolerant mode",
			logger.Int("substituted", substituted), logger.Int("labels", len(labels)), logger.Int("scores", len(raw)))
	}

	sort.SliceStable(preds, func(a, b int) bool { return preds[a].Confidence > preds[b].Confidence })

	res := Result{Predictions: preds, Substituted: substituted}
	if len(preds) > 0 {
		res.Accuracy = preds[0].Confidence
	}
	return res, nil
}

func score(raw []float32, i int) (float64, bool) {
	if i >= len(raw) {
		return 0, false
	}
	v := float64(raw[i])
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (d *Decoder) fallback() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fallbackMin + d.rng.Float64()*fallbackSpan
}

// Entries assigns display ranks 1..N in prediction order.
func Entries(preds []model.Prediction) []types.Entry {
	out := make([]types.Entry, len(preds))
	for i, p := range preds {
		out[i] = types.Entry{
			Rank:        i + 1,
			HerbID:      p.HerbID,
			Name:        p.Name,
			Confidence:  p.Confidence,
			Known:       p.Known,
			Substituted: p.Substituted,
		}
	}
	return out
}
