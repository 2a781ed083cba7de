// Package preprocess turns decoded images into the classifier's input tensor.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "github.com/gen2brain/avif"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/okian/herbid/internal/domain/tensor"
)

// Model input geometry.
const (
	Size     = 224
	Channels = 3
)

// InputShape is the NHWC shape produced by Preprocess.
var InputShape = []int{1, Size, Size, Channels}

// DefaultMaxPixels bounds the raster Decode is willing to allocate.
const DefaultMaxPixels = 25_000_000

// Decode reads an encoded JPEG, PNG, GIF, BMP, WebP or AVIF image of at most
// DefaultMaxPixels pixels.
func Decode(r io.Reader) (image.Image, string, error) {
	return DecodeLimit(r, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel budget; maxPixels < 1 means
// DefaultMaxPixels. The header is checked before any raster is allocated.
func DecodeLimit(r io.Reader, maxPixels int64) (image.Image, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("%w: nil reader", ErrDecode)
	}
	if maxPixels < 1 {
		maxPixels = DefaultMaxPixels
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, format, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, format, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	return img, format, nil
}

// DecodeBytes is Decode over an in-memory blob.
func DecodeBytes(b []byte) (image.Image, string, error) {
	if len(b) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	return Decode(bytes.NewReader(b))
}

// Preprocess resizes img to 224x224 with bilinear interpolation (aspect ratio
// is not preserved) and returns a [1,224,224,3] tensor with channel values
// scaled from 0..255 to [0,1]. The caller owns the returned tensor.
func Preprocess(tr *tensor.Tracker, img image.Image) (*tensor.Tensor, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	resized := resize.Resize(Size, Size, img, resize.Bilinear)
	out, err := tr.New(InputShape...)
	if err != nil {
		return nil, err
	}
	fill(out.Data(), resized)
	return out, nil
}

// PreprocessReader decodes r and preprocesses the result.
func PreprocessReader(tr *tensor.Tracker, r io.Reader) (*tensor.Tensor, error) {
	img, _, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Preprocess(tr, img)
}

// fill writes straight (non-premultiplied) channel values, so a translucent
// pixel keeps its color rather than fading toward black.
func fill(dst []float32, img image.Image) {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < Size; y++ {
			for x := 0; x < Size; x++ {
				o := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
				i := (y*Size + x) * Channels
				a := rgba.Pix[o+3]
				dst[i] = unpremultiply(rgba.Pix[o], a)
				dst[i+1] = unpremultiply(rgba.Pix[o+1], a)
				dst[i+2] = unpremultiply(rgba.Pix[o+2], a)
			}
		}
		return
	}
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := (y*Size + x) * Channels
			dst[i] = float32(c.R) / 0xffff
			dst[i+1] = float32(c.G) / 0xffff
			dst[i+2] = float32(c.B) / 0xffff
		}
	}
}

func unpremultiply(c, a uint8) float32 {
	switch a {
	case 0:
		return 0
	case 0xff:
		return float32(c) / 255
	}
	v := float32(c) / float32(a)
	if v > 1 {
		v = 1
	}
	return v
}
