package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/herbid/pkg/logger"
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// PostImage uploads data as the multipart "image" field.
func (c *HTTPClient) PostImage(ctx context.Context, url, name string, data []byte) (*http.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name+".png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.client.Do(req)
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeBackpressure
	outcomeFailed
)

// submitImages posts every image concurrently and verifies each response.
func submitImages(ctx context.Context, config *Config, images []Image, herbs int, stats *Stats) {
	log := logger.Get().Named("bench")
	log.Info(ctx, "submitting images", logger.Int("images", len(images)), logger.Int("workers", config.Workers))

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/predict"

	var (
		successful, backpressured, failed, submitted, violations atomic.Int64
		serverMicros                                             atomic.Int64
	)

	jobs := make(chan Image, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for img := range jobs {
				if ctx.Err() != nil {
					return
				}
				resp, res, err := submitSingleImage(ctx, client, url, img)
				submitted.Add(1)
				switch res {
				case outcomeBackpressure:
					backpressured.Add(1)
					continue
				case outcomeFailed:
					failed.Add(1)
					if config.Verbose {
						log.Warn(ctx, "prediction failed", logger.String("image", img.ID), logger.Error(err))
					}
					continue
				}
				successful.Add(1)
				serverMicros.Add(int64(resp.ProcessingTimeMS * 1000))
				if vErr := verifyPrediction(resp, herbs); vErr != nil {
					violations.Add(1)
					if config.Verbose {
						log.Warn(ctx, "ranking invariant violated", logger.String("image", img.ID), logger.Error(vErr))
					}
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, img := range images {
			select {
			case <-ctx.Done():
				return
			case jobs <- img:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Successful = int(successful.Load())
	stats.Backpressured = int(backpressured.Load())
	stats.Failed = int(failed.Load())
	stats.Violations = int(violations.Load())
	if stats.Successful > 0 {
		stats.MeanServerMS = float64(serverMicros.Load()) / 1000 / float64(stats.Successful)
	}
}

func submitSingleImage(ctx context.Context, client *HTTPClient, url string, img Image) (PredictResponse, outcome, error) {
	resp, err := client.PostImage(ctx, url, img.ID, img.Data)
	if err != nil {
		return PredictResponse{}, outcomeFailed, err
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return PredictResponse{}, outcomeFailed, err
	}

	switch resp.StatusCode {
	case StatusOK:
		var out PredictResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return PredictResponse{}, outcomeFailed, fmt.Errorf("failed to parse response: %w", err)
		}
		return out, outcomeSuccess, nil
	case StatusTooManyRequests:
		return PredictResponse{}, outcomeBackpressure, nil
	default:
		return PredictResponse{}, outcomeFailed, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
}
