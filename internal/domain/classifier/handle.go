// Package classifier owns the herb classifier: its network, its class labels
// and the load/predict/dispose lifecycle.
package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

const defaultSeed = 42

// Handle is an explicitly owned classifier instance.
//
// Predict calls share a read lock and may run concurrently; Load and Dispose
// take the write lock and wait for in-flight predictions to finish.
type Handle struct {
	mu      sync.RWMutex
	catalog *catalog.Catalog
	builder Builder
	tracker *tensor.Tracker
	logger  logger.Logger

	net     Network
	labels  []Label
	ready   bool
	lastErr error
}

// Option configures a Handle.
type Option func(*Handle)

// WithBuilder replaces the native network builder.
func WithBuilder(b Builder) Option {
	return func(h *Handle) {
		if b != nil {
			h.builder = b
		}
	}
}

// WithTracker sets the tracker that accounts parameter and scratch buffers.
func WithTracker(tr *tensor.Tracker) Option {
	return func(h *Handle) {
		if tr != nil {
			h.tracker = tr
		}
	}
}

// WithLogger sets the handle logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandle creates an unloaded handle whose classes follow cat's order.
func NewHandle(cat *catalog.Catalog, opts ...Option) *Handle {
	h := &Handle{
		catalog: cat,
		builder: NativeBuilder(defaultSeed),
		tracker: tensor.NewTracker(),
		logger:  logger.Get().Named("classifier"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load builds the network if it is not already loaded. It never panics or
// returns an error: failures are logged, kept in LastError and reported as false.
func (h *Handle) Load(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ready {
		return true
	}
	start := time.Now()
	net, labels, err := h.build(ctx)
	metrics.RecordModelLoad(err == nil)
	if err != nil {
		h.lastErr = err
		h.logger.Error(ctx, "model load failed", logger.Error(err))
		metrics.RecordErrorByComponent("classifier", "load")
		return false
	}

	h.net, h.labels, h.ready, h.lastErr = net, labels, true, nil
	info := net.Info()
	h.logger.Info(ctx, "model loaded",
		logger.String("backend", info.Backend),
		logger.Int("classes", len(labels)),
		logger.Int("trainable_params", info.TrainableParams),
		logger.Int64("resident_bytes", h.tracker.Bytes()),
		logger.Duration("took", time.Since(start)))
	h.publish()
	return true
}

func (h *Handle) build(ctx context.Context) (net Network, labels []Label, err error) {
	defer func() {
		if r := recover(); r != nil {
			net, labels = nil, nil
			err = fmt.Errorf("%w: panic: %v", ErrLoad, r)
		}
	}()

	if h.catalog == nil || h.catalog.Len() == 0 {
		return nil, nil, fmt.Errorf("%w: empty catalog", ErrLoad)
	}
	// Labels and output width come from the same catalog snapshot.
	entries := h.catalog.Entries()
	labels = make([]Label, len(entries))
	for i, e := range entries {
		labels[i] = Label{ID: e.ID, Name: e.Name}
	}

	net, err = h.builder(ctx, h.tracker, len(labels))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	if got := net.Info().Classes(); got != len(labels) {
		net.Release()
		return nil, nil, fmt.Errorf("%w: network has %d outputs, catalog has %d entries", ErrLoad, got, len(labels))
	}
	return net, labels, nil
}

// Scores pairs raw outputs with the labels they were produced against.
type Scores struct {
	Values []float32
	Labels []Label
}

// Predict runs one forward pass and returns one score per class in label order.
func (h *Handle) Predict(ctx context.Context, in *tensor.Tensor) ([]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.predict(ctx, in)
}

// Classify is Predict plus the label snapshot, read under the same lock so a
// concurrent reload cannot pair scores with another network's labels.
func (h *Handle) Classify(ctx context.Context, in *tensor.Tensor) (Scores, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	values, err := h.predict(ctx, in)
	if err != nil {
		return Scores{}, err
	}
	return Scores{Values: values, Labels: append([]Label(nil), h.labels...)}, nil
}

func (h *Handle) predict(ctx context.Context, in *tensor.Tensor) ([]float32, error) {
	if !h.ready {
		return nil, ErrNotLoaded
	}
	if in == nil || in.Released() || !in.HasShape(preprocess.InputShape...) {
		var shape []int
		if in != nil {
			shape = in.Shape()
		}
		return nil, fmt.Errorf("%w: want %v, got %v", ErrShape, preprocess.InputShape, shape)
	}

	start := time.Now()
	scores, err := h.net.Forward(ctx, in)
	metrics.RecordForwardLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// Dispose releases every parameter buffer and marks the handle not ready.
func (h *Handle) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.net != nil {
		h.net.Release()
	}
	wasReady := h.ready
	h.net, h.labels, h.ready = nil, nil, false
	metrics.RecordModelDispose()
	h.publish()
	if wasReady {
		h.logger.Info(context.Background(), "model disposed", logger.Int64("resident_bytes", h.tracker.Bytes()))
	}
}

// Info describes the loaded network, or nil when not loaded.
func (h *Handle) Info() *Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.ready {
		return nil
	}
	info := h.net.Info().clone()
	return &info
}

// Ready reports whether Predict can be called.
func (h *Handle) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Labels returns the class-index to catalog mapping built at load, or nil.
func (h *Handle) Labels() []Label {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Label(nil), h.labels...)
}

// LastError returns the cause of the most recent failed Load, if any.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Tracker returns the buffer tracker backing this handle.
func (h *Handle) Tracker() *tensor.Tracker { return h.tracker }

func (h *Handle) publish() {
	metrics.UpdateModelReady(h.ready)
	metrics.UpdateTensorMemory(h.tracker.Bytes(), h.tracker.Count())
}
