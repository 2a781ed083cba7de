// Package config defines service configuration and its layered loader.
package config

import (
	"runtime"
	"time"
)

// Model backends.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory inference job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of inference workers.
	WorkerCount int `koanf:"worker_count"`

	// HistorySize bounds the in-session recognition history and feedback lists.
	HistorySize int `koanf:"history_size"`

	// MaxHistoryLimit caps GET /history?limit.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// MaxUploadBytes caps the size of an uploaded image.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// MaxImagePixels caps width*height of a decoded upload; the header is
	// checked before the raster is allocated.
	MaxImagePixels int64 `koanf:"max_image_pixels"`

	// InferenceTimeoutMS bounds how long a request waits for its job.
	InferenceTimeoutMS int `koanf:"inference_timeout_ms"`

	// ModelBackend selects the classifier network: native or onnx.
	ModelBackend string `koanf:"model_backend"`

	// ModelSeed seeds parameter initialization of the native network.
	ModelSeed int64 `koanf:"model_seed"`

	// ONNXModelPath and ONNXLibPath configure the onnx backend.
	ONNXModelPath string `koanf:"onnx_model_path"`
	ONNXLibPath   string `koanf:"onnx_lib_path"`

	// CatalogPath optionally replaces the embedded reference catalog (TOML).
	CatalogPath string `koanf:"catalog_path"`

	// TolerantScores substitutes synthetic confidences for missing or
	// non-finite scores instead of failing the prediction.
	TolerantScores bool `koanf:"tolerant_scores"`

	// FallbackSeed seeds the tolerant-mode substitution generator.
	FallbackSeed int64 `koanf:"fallback_seed"`

	// FeatureLength is the number of raw scores copied into each candidate.
	FeatureLength int `koanf:"feature_length"`

	// Metrics tunes the Prometheus collectors exposed on /healthz.
	Metrics Metrics `koanf:"metrics"`
}

// Metrics configures pkg/metrics. Labels and buckets are easiest to set from
// the YAML file; scalars also work from HERB_METRICS_* variables.
type Metrics struct {
	Enabled           bool              `koanf:"enabled"`
	Subsystem         string            `koanf:"subsystem"`
	Prefix            string            `koanf:"prefix"`
	Labels            map[string]string `koanf:"labels"`
	Buckets           []float64         `koanf:"buckets"`
	RefreshIntervalMS int               `koanf:"refresh_interval_ms"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		QueueSize:          256,
		WorkerCount:        runtime.NumCPU(),
		HistorySize:        100,
		MaxHistoryLimit:    100,
		MaxUploadBytes:     10 << 20,
		MaxImagePixels:     25_000_000,
		InferenceTimeoutMS: 30_000,
		ModelBackend:       BackendNative,
		ModelSeed:          42,
		TolerantScores:     false,
		FallbackSeed:       42,
		FeatureLength:      10,
		Metrics: Metrics{
			Enabled:           true,
			Subsystem:         "inference",
			RefreshIntervalMS: 10_000,
		},
	}
}

// InferenceTimeout returns InferenceTimeoutMS as a duration.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutMS) * time.Millisecond
}
