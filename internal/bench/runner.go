// Package bench drives concurrent recognition load against a running server
// and checks every response against the ranking invariants.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/herbid/pkg/logger"
)

// ErrViolations is returned when any response broke a ranking invariant.
var ErrViolations = errors.New("ranking invariants violated")

const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run executes a complete load run.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if config.Images < 1 || config.Workers < 1 {
		return nil, fmt.Errorf("images and workers must be positive, got %d and %d", config.Images, config.Workers)
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("bench")

	log.Info(ctx, "starting recognition load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("images", config.Images),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout))

	client := newHTTPClient(config.Timeout)
	if err := checkServiceHealth(ctx, client, config.BaseURL); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	herbs, err := countHerbs(ctx, client, config.BaseURL)
	if err != nil {
		return stats, fmt.Errorf("catalog retrieval failed: %w", err)
	}
	stats.Herbs = herbs

	images, err := generateImages(ctx, config, stats)
	if err != nil {
		return stats, fmt.Errorf("image generation failed: %w", err)
	}
	if config.OutputDir != "" {
		if err := saveImages(config.OutputDir, images); err != nil {
			log.Warn(ctx, "failed to save images", logger.Error(err))
		}
	}

	submitImages(ctx, config, images, herbs, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.Violations > 0 {
		return stats, fmt.Errorf("%w: %d responses", ErrViolations, stats.Violations)
	}
	return stats, nil
}

func checkServiceHealth(ctx context.Context, client *HTTPClient, baseURL string) error {
	resp, err := client.Get(ctx, baseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	_, _ = readResponseBody(resp)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func countHerbs(ctx context.Context, client *HTTPClient, baseURL string) (int, error) {
	resp, err := client.Get(ctx, baseURL+"/herbs")
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	var herbs []json.RawMessage
	if err := json.Unmarshal(body, &herbs); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	return len(herbs), nil
}

func saveImages(dir string, images []Image) error {
	if err := os.MkdirAll(dir, directoryPermission); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	for _, img := range images {
		if err := os.WriteFile(filepath.Join(dir, img.ID+".png"), img.Data, filePermission); err != nil {
			return fmt.Errorf("failed to write %s: %w", img.ID, err)
		}
	}
	return nil
}

func displayFinalStats(ctx context.Context, stats *Stats) {
	var successRate, imagesPerSecond float64
	if stats.Submitted > 0 {
		successRate = float64(stats.Successful) / float64(stats.Submitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		imagesPerSecond = float64(stats.Submitted) / stats.Duration.Seconds()
	}

	logger.Get().Named("bench").Info(ctx, "final statistics",
		logger.Int("herbs", stats.Herbs),
		logger.Int("imagesGenerated", stats.ImagesGenerated),
		logger.Int("submitted", stats.Submitted),
		logger.Int("successful", stats.Successful),
		logger.Int("backpressured", stats.Backpressured),
		logger.Int("failed", stats.Failed),
		logger.Int("violations", stats.Violations),
		logger.Float64("meanServerMs", stats.MeanServerMS),
		logger.Duration("duration", stats.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("imagesPerSecond", imagesPerSecond))
}
