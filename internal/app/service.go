// Package service wires the recognition pipeline together and implements
// the dependencies required by the HTTP API and the CLI.
package service

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/herbid/internal/adapters/mq/queue"
	workerpool "github.com/okian/herbid/internal/adapters/mq/worker"
	"github.com/okian/herbid/internal/adapters/onnx"
	"github.com/okian/herbid/internal/config"
	"github.com/okian/herbid/internal/domain/augment"
	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/history"
	"github.com/okian/herbid/internal/domain/inference"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/internal/domain/ranking"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

// Service owns every pipeline component for the life of the process.
type Service struct {
	mu sync.RWMutex

	cfg          *config.Config
	catalog      *catalog.Catalog
	tracker      *tensor.Tracker
	model        *classifier.Handle
	orchestrator *inference.Orchestrator
	augmenter    *augment.Generator
	history      history.Store
	jobs         queue.Queue
	pool         *workerpool.Pool

	builder classifier.Builder

	started   bool
	startedAt time.Time

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithCatalog supplies the reference catalog instead of loading it.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(s *Service) {
		if cat != nil {
			s.catalog = cat
		}
	}
}

// WithBuilder overrides the network builder selected by the config backend.
func WithBuilder(b classifier.Builder) Option {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// WithHistory supplies the history store.
func WithHistory(store history.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.history = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs the pipeline. The model is not loaded and no workers run
// until Start.
func New(opts ...Option) (*Service, error) {
	s := &Service{cfg: config.New()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if s.catalog == nil {
		cat, err := loadCatalog(s.cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		s.catalog = cat
	}
	if s.builder == nil {
		s.builder = builderFor(s.cfg)
	}
	if s.history == nil {
		s.history = history.NewInMemoryStore(history.WithMaxSize(s.cfg.HistorySize))
	}

	s.tracker = tensor.NewTracker()
	s.model = classifier.NewHandle(s.catalog,
		classifier.WithBuilder(s.builder),
		classifier.WithTracker(s.tracker),
	)
	decoder := ranking.NewDecoder(
		ranking.WithTolerant(s.cfg.TolerantScores),
		ranking.WithSeed(s.cfg.FallbackSeed),
		ranking.WithFeatureLength(s.cfg.FeatureLength),
	)
	s.orchestrator = inference.New(s.model, s.catalog, s.tracker, inference.WithDecoder(decoder))
	s.augmenter = augment.New()
	return s, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

func builderFor(cfg *config.Config) classifier.Builder {
	if cfg.ModelBackend == config.BackendONNX {
		return onnx.Builder(cfg.ONNXModelPath, cfg.ONNXLibPath)
	}
	return classifier.NativeBuilder(cfg.ModelSeed)
}

// Start loads the model and starts the worker pool. A failed model load is
// logged and left for LoadModel to retry; predictions fail with
// classifier.ErrNotLoaded meanwhile.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting herb recognition service...",
		logger.String("backend", s.cfg.ModelBackend),
		logger.Int("herbs", s.catalog.Len()))

	if !s.model.Load(ctx) {
		s.logger.Warn(ctx, "model unavailable, serving catalog only", logger.Error(s.model.LastError()))
	}

	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))
	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.jobs, s.orchestrator, s.history)
	s.pool.Start(ctx)

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "herb recognition service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.jobs.Capacity()),
		logger.Int("historySize", s.cfg.HistorySize),
	)
	return nil
}

// Stop drains the workers, disposes the model and, for the onnx backend,
// releases the runtime environment.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping herb recognition service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.model.Dispose()
	if s.cfg.ModelBackend == config.BackendONNX {
		if err := onnx.Shutdown(); err != nil {
			s.logger.Warn(ctx, "onnx runtime shutdown", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "herb recognition service stopped")
}

// Predict runs one recognition through the worker pool and waits for it.
// The returned record is the history entry created for the result.
func (s *Service) Predict(ctx context.Context, img image.Image, format string) (model.Metrics, *model.RecognitionRecord, error) {
	s.mu.RLock()
	started, jobs := s.started, s.jobs
	s.mu.RUnlock()
	if !started {
		return model.Metrics{}, nil, ErrNotStarted
	}

	job := model.NewJob(uuid.NewString(), img, format)
	if err := jobs.Enqueue(ctx, job); err != nil {
		return model.Metrics{}, nil, err
	}

	timer := time.NewTimer(s.cfg.InferenceTimeout())
	defer timer.Stop()
	select {
	case res := <-job.Reply:
		return res.Metrics, res.Record, res.Err
	case <-ctx.Done():
		return model.Metrics{}, nil, ctx.Err()
	case <-timer.C:
		s.logger.Warn(ctx, "inference timed out", logger.String("job_id", job.ID))
		return model.Metrics{}, nil, fmt.Errorf("%w: job %s: %w", ErrTimeout, job.ID, context.DeadlineExceeded)
	}
}

// Augment produces the four fixed variants of img.
func (s *Service) Augment(ctx context.Context, img image.Image) (augment.Set, error) {
	return s.augmenter.Generate(ctx, img)
}

// Search filters the catalog; an empty query returns every herb.
func (s *Service) Search(_ context.Context, query string) []catalog.Entry {
	return s.catalog.Search(query)
}

// Herb returns one catalog entry.
func (s *Service) Herb(_ context.Context, id string) (catalog.Entry, error) {
	return s.catalog.Get(id)
}

// Catalog exposes the reference catalog.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// ModelInfo describes the loaded network.
func (s *Service) ModelInfo(_ context.Context) (*classifier.Info, error) {
	info := s.model.Info()
	if info == nil {
		return nil, classifier.ErrNotLoaded
	}
	return info, nil
}

// LoadModel loads the network if needed and reports the outcome.
func (s *Service) LoadModel(ctx context.Context) error {
	if s.model.Load(ctx) {
		return nil
	}
	return s.model.LastError()
}

// DisposeModel releases the network; predictions fail until the next load.
func (s *Service) DisposeModel(_ context.Context) {
	s.model.Dispose()
}

// History returns up to limit recognitions, newest first, capped at
// max_history_limit.
func (s *Service) History(ctx context.Context, limit int) []model.RecognitionRecord {
	return s.history.Records(ctx, s.clampLimit(limit))
}

// Feedback returns up to limit feedback entries, newest first.
func (s *Service) Feedback(ctx context.Context, limit int) []model.Feedback {
	return s.history.Feedback(ctx, s.clampLimit(limit))
}

func (s *Service) clampLimit(limit int) int {
	if maxLimit := s.cfg.MaxHistoryLimit; maxLimit > 0 && (limit <= 0 || limit > maxLimit) {
		return maxLimit
	}
	return limit
}

// SubmitFeedback validates and stores a verdict on a prediction.
func (s *Service) SubmitFeedback(ctx context.Context, fb model.Feedback) (model.Feedback, error) {
	return s.history.AddFeedback(ctx, fb)
}

// Stats returns the history summary.
func (s *Service) Stats(ctx context.Context) history.Stats {
	return s.history.Stats(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.cfg.WorkerCount,
		"queueSize":    s.cfg.QueueSize,
		"modelReady":   s.model.Ready(),
		"herbs":        s.catalog.Len(),
		"tensorBytes":  s.tracker.Bytes(),
		"tensorCount":  s.tracker.Count(),
		"historyCount": s.history.Len(),
		"history":      s.history.Stats(ctx),
	}

	if s.started {
		queueLen := s.jobs.Len(ctx)
		stats["queueLength"] = queueLen
		stats["busyWorkers"] = s.pool.Busy()
		stats["uptimeSeconds"] = int64(time.Since(s.startedAt).Seconds())

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}
