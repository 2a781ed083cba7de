package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix      = "HERB_"
	envFileKey     = "HERB_CONFIG"
	metricsSection = "metrics"
)

// Load builds a Config by layering, low to high precedence:
//  1. defaults (New)
//  2. YAML file named by HERB_CONFIG, if set
//  3. environment variables with the HERB_ prefix
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(envFileKey); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// HERB_QUEUE_SIZE -> queue_size; top-level keys keep their underscores.
	// HERB_METRICS_PREFIX -> metrics.prefix is the one nested section.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		key := strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
		if rest, ok := strings.CutPrefix(key, metricsSection+"_"); ok {
			return metricsSection + "." + rest
		}
		return key
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *New()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ModelBackend != BackendNative && c.ModelBackend != BackendONNX:
		return fmt.Errorf("%w: unknown model_backend %q", ErrInvalidConfig, c.ModelBackend)
	case c.ModelBackend == BackendONNX && c.ONNXModelPath == "":
		return fmt.Errorf("%w: onnx backend requires onnx_model_path", ErrInvalidConfig)
	case c.FeatureLength < 1:
		return fmt.Errorf("%w: feature_length must be positive", ErrInvalidConfig)
	case c.MaxImagePixels < 1:
		return fmt.Errorf("%w: max_image_pixels must be positive", ErrInvalidConfig)
	case c.Metrics.RefreshIntervalMS < 0:
		return fmt.Errorf("%w: metrics.refresh_interval_ms must not be negative", ErrInvalidConfig)
	}
	return nil
}
