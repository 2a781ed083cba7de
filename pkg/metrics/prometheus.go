// Package metrics provides Prometheus instrumentation for the herb identification service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Inference pipeline
	predictions          prometheus.Counter
	predictionErrors     *prometheus.CounterVec
	inferenceLatency     prometheus.Histogram
	preprocessLatency    prometheus.Histogram
	forwardLatency       prometheus.Histogram
	scoreSubstitutions   prometheus.Counter
	lastAccuracy         prometheus.Gauge
	augmentations        prometheus.Counter
	augmentationLatency  prometheus.Histogram
	augmentationFailures prometheus.Counter

	// Model lifecycle
	modelReady          prometheus.Gauge
	modelLoads          *prometheus.CounterVec
	modelDisposes       prometheus.Counter
	tensorResidentBytes prometheus.Gauge
	tensorCount         prometheus.Gauge

	// History
	historyRecords prometheus.Gauge
	feedback       *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	queueWaitLatency   prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide collectors

// customRegistry keeps the default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global collectors
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors on the
// configured registry. Registering twice on the same registry panics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "herbid",
		subsystem:        "inference",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often periodic gauges should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is enabled.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) name(n string) string { return m.metricPrefix + n }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.predictions = m.counter("predictions_total", "Total number of completed predictions")
	m.predictionErrors = m.counterVec("prediction_errors_total", "Prediction failures by error kind", "kind")
	m.inferenceLatency = m.histogram("latency_milliseconds", "End-to-end prediction latency in milliseconds")
	m.preprocessLatency = m.histogram("preprocess_latency_milliseconds", "Image preprocessing latency in milliseconds")
	m.forwardLatency = m.histogram("forward_latency_milliseconds", "Network forward pass latency in milliseconds")
	m.scoreSubstitutions = m.counter("score_substitutions_total", "Missing or non-finite scores replaced in tolerant mode")
	m.lastAccuracy = m.gauge("last_accuracy", "Accuracy proxy (max confidence) of the latest prediction")
	m.augmentations = m.counter("augmentations_total", "Total number of generated augmentation sets")
	m.augmentationLatency = m.histogram("augmentation_latency_milliseconds", "Augmentation set generation latency in milliseconds")
	m.augmentationFailures = m.counter("augmentation_failures_total", "Augmentation requests that failed")

	m.modelReady = m.gauge("model_ready", "1 when the classifier is loaded and ready")
	m.modelLoads = m.counterVec("model_loads_total", "Model load attempts by outcome", "outcome")
	m.modelDisposes = m.counter("model_disposes_total", "Model dispose calls")
	m.tensorResidentBytes = m.gauge("tensor_resident_bytes", "Bytes held by live tensors")
	m.tensorCount = m.gauge("tensor_count", "Number of live tensors")

	m.historyRecords = m.gauge("history_records", "Recognition records currently retained")
	m.feedback = m.counterVec("feedback_total", "User feedback entries by correctness", "correct")

	m.queueSize = m.gauge("queue_size", "Current number of queued inference jobs")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the inference job queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size / capacity")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Inference jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Inference jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Inference jobs rejected by the queue")
	m.queueWaitLatency = m.histogram("queue_wait_milliseconds", "Time jobs spend queued before a worker picks them up")

	m.workerCount = m.gauge("worker_count", "Configured number of inference workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a job")
	m.workerIdleCount = m.gauge("worker_idle_count", "Workers waiting for a job")
	m.workerProcessingLatency = m.histogram("worker_processing_milliseconds", "Time a worker spends on one job")
	m.workerErrors = m.counter("worker_errors_total", "Jobs that finished with an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Most recent GC pause in milliseconds")
}

func on() bool { return globalManager.enabled }

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Inference pipeline.

// RecordPrediction records a completed prediction: its end-to-end latency and accuracy proxy.
func RecordPrediction(latency time.Duration, accuracy float64) {
	if !on() {
		return
	}
	globalManager.predictions.Inc()
	globalManager.inferenceLatency.Observe(ms(latency))
	globalManager.lastAccuracy.Set(accuracy)
}

// RecordPredictionError counts a failed prediction under its error kind.
func RecordPredictionError(kind string) {
	if on() {
		globalManager.predictionErrors.WithLabelValues(kind).Inc()
	}
}

// RecordPreprocessLatency observes the time spent decoding-to-tensor for one image.
func RecordPreprocessLatency(d time.Duration) {
	if on() {
		globalManager.preprocessLatency.Observe(ms(d))
	}
}

// RecordForwardLatency observes one network forward pass.
func RecordForwardLatency(d time.Duration) {
	if on() {
		globalManager.forwardLatency.Observe(ms(d))
	}
}

// RecordScoreSubstitutions counts scores replaced in tolerant mode; zero is ignored.
func RecordScoreSubstitutions(n int) {
	if on() && n > 0 {
		globalManager.scoreSubstitutions.Add(float64(n))
	}
}

// RecordAugmentation records a generated augmentation set, or a failure when err is non-nil.
func RecordAugmentation(d time.Duration, err error) {
	if !on() {
		return
	}
	if err != nil {
		globalManager.augmentationFailures.Inc()
		return
	}
	globalManager.augmentations.Inc()
	globalManager.augmentationLatency.Observe(ms(d))
}

// Model lifecycle.

// RecordModelLoad counts a model load attempt by outcome.
func RecordModelLoad(ok bool) {
	if !on() {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	globalManager.modelLoads.WithLabelValues(outcome).Inc()
}

// RecordModelDispose counts a model dispose call.
func RecordModelDispose() {
	if on() {
		globalManager.modelDisposes.Inc()
	}
}

// UpdateModelReady sets the model readiness gauge.
func UpdateModelReady(ready bool) {
	if !on() {
		return
	}
	if ready {
		globalManager.modelReady.Set(1)
	} else {
		globalManager.modelReady.Set(0)
	}
}

// UpdateTensorMemory sets the live tensor byte and count gauges.
func UpdateTensorMemory(bytes, count int64) {
	if on() {
		globalManager.tensorResidentBytes.Set(float64(bytes))
		globalManager.tensorCount.Set(float64(count))
	}
}

// History.

// UpdateHistoryRecords sets the number of retained recognition records.
func UpdateHistoryRecords(n int) {
	if on() {
		globalManager.historyRecords.Set(float64(n))
	}
}

// RecordFeedback counts a feedback entry by correctness.
func RecordFeedback(correct bool) {
	if !on() {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	globalManager.feedback.WithLabelValues(label).Inc()
}

// Queue.

// UpdateQueueSize updates the queue size metric.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity updates the queue capacity metric.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization updates the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if on() {
		globalManager.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueued jobs counter.
func RecordQueueEnqueue() {
	if on() {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueDequeue increments the dequeued jobs counter.
func RecordQueueDequeue() {
	if on() {
		globalManager.queueDequeued.Inc()
	}
}

// RecordQueueEnqueueError increments the rejected jobs counter.
func RecordQueueEnqueueError() {
	if on() {
		globalManager.queueEnqueueErrors.Inc()
	}
}

// RecordQueueWait observes how long a job waited before a worker took it.
func RecordQueueWait(d time.Duration) {
	if on() {
		globalManager.queueWaitLatency.Observe(ms(d))
	}
}

// Workers.

// UpdateWorkerCount updates the configured worker count.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// UpdateWorkerActiveCount updates the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	if on() {
		globalManager.workerActiveCount.Set(float64(count))
	}
}

// UpdateWorkerIdleCount updates the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	if on() {
		globalManager.workerIdleCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency observes the time a worker spent on one job.
func RecordWorkerProcessingLatency(d time.Duration) {
	if on() {
		globalManager.workerProcessingLatency.Observe(ms(d))
	}
}

// RecordWorkerError increments the failed jobs counter.
func RecordWorkerError() {
	if on() {
		globalManager.workerErrors.Inc()
	}
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes an HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// Errors.

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	if on() {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType counts an error by type and severity.
func RecordErrorByType(errorType, severity string) {
	if on() {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint counts an error returned by an HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if on() {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// System.

// UpdateSystemMemoryUsage sets the heap-in-use gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime observes the most recent GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if on() {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// Configure replaces the package-level collectors with a manager built from
// opts on a fresh registry, which GetRegistry then returns. It must run at
// startup, before anything records or serves /healthz.
func Configure(opts ...Option) *Manager {
	registry := prometheus.NewRegistry()
	all := append(append([]Option(nil), opts...), WithPrometheusRegistry(registry))
	m := NewManager(all...)
	customRegistry, globalManager = registry, m
	return m
}

// GetRegistry returns the registry backing the package-level recorders.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Sum gathers the global registry and returns the sum of every sample of the
// named metric family (counters and gauges only), e.g. "herbid_inference_predictions_total".
func Sum(name string) (float64, error) {
	families, err := customRegistry.Gather()
	if err != nil {
		return 0, err
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total, nil
	}
	return 0, ErrMetricNotFound
}
