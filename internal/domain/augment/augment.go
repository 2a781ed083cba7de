// Package augment renders the fixed set of inspection variants of an image:
// identity, horizontal mirror, 15 degree rotation and a 1.2x brightness boost.
// Variants are for display only and never reach the classifier.
package augment

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/okian/herbid/pkg/logger"
	"github.com/okian/herbid/pkg/metrics"
)

const (
	// Size is the edge length of every variant.
	Size = 224
	// RotationDegrees is applied clockwise on screen (y axis pointing down).
	RotationDegrees = 15.0
	// BrightnessFactor scales each color channel.
	BrightnessFactor = 1.2
)

// Variant names in output order.
const (
	Original = "original"
	Mirror   = "mirror"
	Rotate15 = "rotate15"
	Brighten = "brighten"
)

// Names lists variant names in output order.
var Names = [4]string{Original, Mirror, Rotate15, Brighten}

// Variant is one rendered buffer.
type Variant struct {
	Name  string
	Image *image.NRGBA
}

// Set is a complete, ordered augmentation result.
type Set [4]Variant

type transform func(base *image.NRGBA) *image.NRGBA

// Generator renders augmentation sets.
type Generator struct {
	logger logger.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the generator logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{logger: logger.Get().Named("augment")}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate renders all four variants concurrently. Either every variant is
// returned or none is: any failure yields an ErrSurface error.
func (g *Generator) Generate(ctx context.Context, img image.Image) (Set, error) {
	start := time.Now()
	set, err := g.generate(ctx, img)
	metrics.RecordAugmentation(time.Since(start), err)
	if err != nil {
		metrics.RecordErrorByComponent("augment", "surface")
		g.logger.Warn(ctx, "augmentation failed", logger.Error(err))
		return Set{}, err
	}
	g.logger.Debug(ctx, "augmentation rendered", logger.Duration("took", time.Since(start)))
	return set, nil
}

func (g *Generator) generate(ctx context.Context, img image.Image) (Set, error) {
	if img == nil || img.Bounds().Empty() {
		return Set{}, fmt.Errorf("%w: source image has no pixels", ErrSurface)
	}
	base := imaging.Resize(img, Size, Size, imaging.Linear)

	transforms := [4]transform{identity, mirror, rotate, brighten}
	var out Set
	eg, ctx := errgroup.WithContext(ctx)
	for i, fn := range transforms {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrSurface, Names[i], err)
			}
			canvas := fn(base)
			if canvas == nil || canvas.Bounds().Dx() != Size || canvas.Bounds().Dy() != Size {
				return fmt.Errorf("%w: %s: bad canvas", ErrSurface, Names[i])
			}
			out[i] = Variant{Name: Names[i], Image: canvas}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Set{}, err
	}
	return out, nil
}

func identity(base *image.NRGBA) *image.NRGBA {
	return imaging.Clone(base)
}

func mirror(base *image.NRGBA) *image.NRGBA {
	return imaging.FlipH(base)
}

// rotate turns the image clockwise about its center. imaging rotates
// counter-clockwise and grows the canvas, so the angle is negated and the
// result is cut back to Size around the center; exposed corners stay transparent.
func rotate(base *image.NRGBA) *image.NRGBA {
	rotated := imaging.Rotate(base, -RotationDegrees, color.Transparent)
	return imaging.CropCenter(rotated, Size, Size)
}

func brighten(base *image.NRGBA) *image.NRGBA {
	return imaging.AdjustFunc(base, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
	})
}

func scale(v uint8) uint8 {
	f := float64(v)*BrightnessFactor + 0.5
	if f > 255 {
		return 255
	}
	return uint8(f)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// DataURL encodes img as a base64 PNG data URL.
func DataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Save writes every variant to dir as <name>.png and returns the paths.
func (s Set) Save(dir string) ([]string, error) {
	paths := make([]string, 0, len(s))
	for _, v := range s {
		p := filepath.Join(dir, v.Name+".png")
		if err := imaging.Save(v.Image, p); err != nil {
			return paths, fmt.Errorf("save %s: %w", v.Name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
