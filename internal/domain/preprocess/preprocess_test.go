package preprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/herbid/internal/domain/tensor"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func TestPreprocess(t *testing.T) {
	Convey("Given a tensor tracker", t, func() {
		tr := tensor.NewTracker()

		Convey("A 10x10 solid red image becomes pure red everywhere", func() {
			out, err := Preprocess(tr, solid(10, 10, color.RGBA{R: 255, A: 255}))
			So(err, ShouldBeNil)
			defer out.Release()

			So(out.HasShape(1, 224, 224, 3), ShouldBeTrue)
			data := out.Data()
			for i := 0; i < len(data); i += 3 {
				if math.Abs(float64(data[i])-1) > 1e-6 || data[i+1] > 1e-6 || data[i+2] > 1e-6 {
					t.Fatalf("pixel %d = %v", i/3, data[i:i+3])
				}
			}
		})

		Convey("Non-square inputs of any size are stretched to 224x224 within [0,1]", func() {
			for _, img := range []image.Image{gradient(640, 120), gradient(3, 500), gradient(224, 224)} {
				out, err := Preprocess(tr, img)
				So(err, ShouldBeNil)
				So(out.Shape(), ShouldResemble, []int{1, 224, 224, 3})
				for _, v := range out.Data() {
					if v < 0 || v > 1 {
						t.Fatalf("value out of range: %v", v)
					}
				}
				out.Release()
			}
			So(tr.Bytes(), ShouldEqual, 0)
		})

		Convey("Only the returned tensor stays resident", func() {
			out, err := Preprocess(tr, gradient(50, 50))
			So(err, ShouldBeNil)
			So(tr.Count(), ShouldEqual, 1)
			So(tr.Bytes(), ShouldEqual, int64(224*224*3*4))
			out.Release()
			So(tr.Bytes(), ShouldEqual, 0)
		})

		Convey("Translucent pixels keep their straight color", func() {
			img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
				}
			}
			out, err := Preprocess(tr, img)
			So(err, ShouldBeNil)
			defer out.Release()

			data := out.Data()
			So(data[0], ShouldAlmostEqual, 200.0/255, 0.01)
			So(data[1], ShouldAlmostEqual, 100.0/255, 0.01)
			So(data[2], ShouldAlmostEqual, 50.0/255, 0.01)

			Convey("Including images read through the generic color path", func() {
				big := image.NewNRGBA(image.Rect(0, 0, Size, Size))
				for i := 0; i < len(big.Pix); i += 4 {
					copy(big.Pix[i:i+4], []uint8{200, 100, 50, 128})
				}
				dst := make([]float32, Size*Size*Channels)
				fill(dst, big)
				So(dst[0], ShouldAlmostEqual, 200.0/255, 1e-3)
				So(dst[len(dst)-1], ShouldAlmostEqual, 50.0/255, 1e-3)
			})

			Convey("And fully transparent pixels read as zero", func() {
				So(unpremultiply(0, 0), ShouldBeZeroValue)
				So(unpremultiply(64, 128), ShouldAlmostEqual, 0.5, 1e-6)
			})
		})

		Convey("Nil and empty images fail with ErrDecode", func() {
			_, err := Preprocess(tr, nil)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, err = Preprocess(tr, image.NewRGBA(image.Rect(0, 0, 0, 0)))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
			So(tr.Count(), ShouldEqual, 0)
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Given encoded blobs", t, func() {
		tr := tensor.NewTracker()

		Convey("PNG and JPEG decode and preprocess", func() {
			var pngBuf, jpgBuf bytes.Buffer
			So(png.Encode(&pngBuf, gradient(32, 16)), ShouldBeNil)
			So(jpeg.Encode(&jpgBuf, gradient(32, 16), nil), ShouldBeNil)

			img, format, err := DecodeBytes(pngBuf.Bytes())
			So(err, ShouldBeNil)
			So(format, ShouldEqual, "png")
			So(img.Bounds().Dx(), ShouldEqual, 32)

			out, err := PreprocessReader(tr, &jpgBuf)
			So(err, ShouldBeNil)
			So(out.HasShape(InputShape...), ShouldBeTrue)
			out.Release()
		})

		Convey("Images beyond the pixel budget are rejected from their header", func() {
			_, _, err := Decode(bytes.NewReader(pngHeader(100_000, 100_000)))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "exceeds")

			var buf bytes.Buffer
			So(png.Encode(&buf, gradient(32, 16)), ShouldBeNil)
			_, _, err = DecodeLimit(bytes.NewReader(buf.Bytes()), 100)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			img, _, err := DecodeLimit(bytes.NewReader(buf.Bytes()), 32*16)
			So(err, ShouldBeNil)
			So(img.Bounds().Dx(), ShouldEqual, 32)
		})

		Convey("Garbage, empty and nil input fail with ErrDecode", func() {
			_, _, err := Decode(strings.NewReader("definitely not an image"))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, _, err = DecodeBytes(nil)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, _, err = Decode(nil)
			So(errors.Is(err, ErrDecode), ShouldBeTrue)

			_, err = PreprocessReader(tr, strings.NewReader("GIF89a truncated"))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
			So(tr.Count(), ShouldEqual, 0)
		})
	})
}

// pngHeader returns a PNG signature and a valid IHDR chunk for an 8-bit RGB
// image of the given size, with no pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 2, 0, 0, 0)

	_ = binary.Write(&buf, binary.BigEndian, uint32(len(chunk)-4))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}
