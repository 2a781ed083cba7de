// Package worker runs inference jobs taken off the queue.
package worker

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/herbid/internal/adapters/mq/queue"
	"github.com/okian/herbid/internal/domain/inference"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

const (
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Job is what workers read off the queue.
type Job = queue.Job

// Predictor runs one inference call.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (model.Metrics, error)
}

// Recorder stores successful recognitions. A nil Recorder disables history.
type Recorder interface {
	AddRecord(ctx context.Context, rec model.RecognitionRecord) model.RecognitionRecord
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs until its context ends or it is shut down.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	predictor Predictor
	recorder  Recorder
	name      string

	shutdown chan struct{}
	done     chan struct{}

	// busy is shared with the pool for the active/idle gauges.
	busy *atomic.Int64

	logger logger.Logger
}

// NewInMemoryWorker creates a worker.
func NewInMemoryWorker(q Queue, p Predictor, r Recorder, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		predictor: p,
		recorder:  r,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		busy:      new(atomic.Int64),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	// The dequeue goroutine must not outlive the worker, or it would sit on
	// a job nobody will run.
	dqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs := w.queue.Dequeue(dqCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			select {
			case <-w.shutdown:
				deliver(j, model.JobResult{Err: queue.ErrClosed})
				return
			default:
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown stops the worker after the job in flight, if any.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j Job) { //nolint:gocritic // jobs travel by value
	start := time.Now()
	w.busy.Add(1)
	defer func() {
		w.busy.Add(-1)
		metrics.RecordWorkerProcessingLatency(time.Since(start))
	}()

	res := w.run(ctx, j)
	if res.Err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", inference.Kind(res.Err))
		w.logger.Error(ctx, "inference job failed",
			logger.String("job_id", j.ID),
			logger.Error(res.Err),
		)
	}
	deliver(j, res)
}

func (w *InMemoryWorker) run(ctx context.Context, j Job) (res model.JobResult) { //nolint:gocritic // jobs travel by value
	defer func() {
		if r := recover(); r != nil {
			res = model.JobResult{Err: fmt.Errorf("worker panic: %v", r)}
		}
	}()

	m, err := w.predictor.Predict(ctx, j.Image)
	if err != nil {
		return model.JobResult{Err: err}
	}
	res.Metrics = m
	if w.recorder == nil {
		return res
	}
	rec := model.RecognitionRecord{
		ID:             j.ID,
		Accuracy:       m.Accuracy,
		ProcessingTime: m.ProcessingTime,
		ImageFormat:    j.Format,
	}
	if top, ok := m.Top(); ok {
		rec.HerbID = top.HerbID
		rec.HerbName = top.Name
		rec.Confidence = top.Confidence
	}
	if j.Image != nil {
		b := j.Image.Bounds()
		rec.ImageWidth, rec.ImageHeight = b.Dx(), b.Dy()
	}
	rec = w.recorder.AddRecord(ctx, rec)
	res.Record = &rec
	return res
}

func deliver(j Job, r model.JobResult) { //nolint:gocritic // jobs travel by value
	if j.Reply == nil {
		return
	}
	select {
	case j.Reply <- r:
	default:
	}
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	busy    *atomic.Int64

	shutdown chan struct{}
	stopped  atomic.Bool

	refresh time.Duration
	logger  logger.Logger
}

// NewPool creates count workers. A count below one means one per CPU.
func NewPool(count int, q Queue, p Predictor, r Recorder, opts ...PoolOption) *Pool {
	if count < 1 {
		count = runtime.NumCPU()
	}
	pool := &Pool{
		workers:  make([]*InMemoryWorker, count),
		queue:    q,
		busy:     new(atomic.Int64),
		shutdown: make(chan struct{}),
		refresh:  5 * time.Second,
		logger:   logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(pool)
	}
	for i := range count {
		w := NewInMemoryWorker(q, p, r, WithName("worker-"+strconv.Itoa(i)))
		w.busy = pool.busy
		pool.workers[i] = w
	}

	metrics.UpdateWorkerCount(count)
	metrics.UpdateWorkerActiveCount(0)
	metrics.UpdateWorkerIdleCount(count)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Busy returns the number of workers running a job.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.updateMetricsLoop(ctx)
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

func (p *Pool) updateMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(p.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.updateMetrics()
		}
	}
}

func (p *Pool) updateMetrics() {
	busy := p.Busy()
	metrics.UpdateWorkerActiveCount(busy)
	metrics.UpdateWorkerIdleCount(len(p.workers) - busy)
}

func (p *Pool) signal() bool {
	if !p.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(p.shutdown)
	for _, w := range p.workers {
		close(w.shutdown)
	}
	return true
}

// Stop signals every worker and waits a bounded time for each.
func (p *Pool) Stop() {
	if !p.signal() {
		return
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown closes the queue, stops the workers and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !p.signal() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			p.drain(ctx)
			return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
		}
	}
	p.drain(ctx)
	return nil
}

// drain answers jobs left in a closed queue so their callers do not wait
// for a timeout.
func (p *Pool) drain(ctx context.Context) {
	d, ok := p.queue.(interface{ Drain() int })
	if !ok {
		return
	}
	if n := d.Drain(); n > 0 {
		p.logger.Warn(ctx, "failed queued jobs at shutdown", logger.Int("jobs", n))
	}
}
