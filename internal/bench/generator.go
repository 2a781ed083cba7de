package bench

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/big"

	"github.com/google/uuid"
	"github.com/okian/herbid/pkg/logger"
)

// randomByte returns a uniformly random byte using crypto/rand.
func randomByte() uint8 {
	n, _ := rand.Int(rand.Reader, big.NewInt(256))
	return uint8(n.Int64())
}

// generateImages renders n PNG images concurrently.
func generateImages(ctx context.Context, config *Config, stats *Stats) ([]Image, error) {
	logger.Get().Info(ctx, "generating synthetic images", logger.Int("images", config.Images), logger.Int("size", config.Size))

	type result struct {
		index int
		img   Image
		err   error
	}
	images := make([]Image, config.Images)
	results := make(chan result, config.Images)

	workerCount := minInt(config.Workers, config.Images)
	perWorker := config.Images / workerCount
	for w := 0; w < workerCount; w++ {
		start := w * perWorker
		end := start + perWorker
		if w == workerCount-1 {
			end = config.Images
		}
		go func(start, end int) {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					results <- result{index: i, err: err}
					return
				}
				data, err := renderGradient(config.Size)
				results <- result{index: i, img: Image{ID: uuid.NewString(), Data: data}, err: err}
			}
		}(start, end)
	}

	for i := 0; i < config.Images; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during image generation: %w", ctx.Err())
		case r := <-results:
			if r.err != nil {
				return nil, fmt.Errorf("failed to generate image %d: %w", r.index, r.err)
			}
			images[r.index] = r.img
		}
	}

	stats.ImagesGenerated = len(images)
	return images, nil
}

// renderGradient draws a diagonal blend between two random colors.
func renderGradient(size int) ([]byte, error) {
	if size < 1 {
		size = DefaultImageSize
	}
	from := color.RGBA{R: randomByte(), G: randomByte(), B: randomByte(), A: 255}
	to := color.RGBA{R: randomByte(), G: randomByte(), B: randomByte(), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	span := 2 * (size - 1)
	if span == 0 {
		span = 1
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			t := float64(x+y) / float64(span)
			img.SetRGBA(x, y, color.RGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
