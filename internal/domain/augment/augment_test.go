package augment

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/herbid/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 180, A: 255})
		}
	}
	return img
}

func TestGenerate(t *testing.T) {
	Convey("Given a generator and a source image", t, func() {
		g := New()
		ctx := context.Background()
		src := pattern(300, 200)

		set, err := g.Generate(ctx, src)
		So(err, ShouldBeNil)

		Convey("It returns four 224x224 variants in fixed order", func() {
			for i, v := range set {
				So(v.Name, ShouldEqual, Names[i])
				So(v.Image.Bounds().Dx(), ShouldEqual, Size)
				So(v.Image.Bounds().Dy(), ShouldEqual, Size)
			}
			So(set[0].Name, ShouldEqual, Original)
			So(set[3].Name, ShouldEqual, Brighten)
		})

		Convey("The mirror flips about the vertical axis", func() {
			orig, mir := set[0].Image, set[1].Image
			for _, p := range []image.Point{{0, 0}, {10, 50}, {223, 223}, {100, 7}} {
				So(mir.NRGBAAt(p.X, p.Y), ShouldResemble, orig.NRGBAAt(Size-1-p.X, p.Y))
			}
		})

		Convey("The rotation keeps the center and exposes transparent corners", func() {
			rot := set[2].Image
			So(rot.NRGBAAt(0, 0).A, ShouldEqual, 0)
			So(rot.NRGBAAt(Size-1, Size-1).A, ShouldEqual, 0)
			So(rot.NRGBAAt(Size/2, Size/2).A, ShouldEqual, 255)
		})

		Convey("The brightened copy scales channels by 1.2 with clamping", func() {
			orig, bright := set[0].Image, set[3].Image
			for _, p := range []image.Point{{0, 0}, {50, 60}, {223, 10}, {200, 200}} {
				o, b := orig.NRGBAAt(p.X, p.Y), bright.NRGBAAt(p.X, p.Y)
				So(b.R, ShouldEqual, scale(o.R))
				So(b.G, ShouldEqual, scale(o.G))
				So(b.B, ShouldEqual, scale(o.B))
				So(b.A, ShouldEqual, o.A)
			}
			So(scale(250), ShouldEqual, 255)
			So(scale(100), ShouldEqual, 120)
		})

		Convey("Generating twice is byte-identical", func() {
			again, err := g.Generate(ctx, src)
			So(err, ShouldBeNil)
			for i := range set {
				So(bytes.Equal(set[i].Image.Pix, again[i].Image.Pix), ShouldBeTrue)
			}
		})

		Convey("Variants export as PNG", func() {
			url, err := DataURL(set[1].Image)
			So(err, ShouldBeNil)
			So(strings.HasPrefix(url, "data:image/png;base64,"), ShouldBeTrue)

			dir := t.TempDir()
			paths, err := set.Save(dir)
			So(err, ShouldBeNil)
			So(paths, ShouldHaveLength, 4)
			f, err := os.Open(filepath.Join(dir, "rotate15.png"))
			So(err, ShouldBeNil)
			defer f.Close()
			decoded, err := png.Decode(f)
			So(err, ShouldBeNil)
			So(decoded.Bounds().Dx(), ShouldEqual, Size)
		})
	})
}

func TestGenerateFailures(t *testing.T) {
	Convey("Given a generator", t, func() {
		g := New(WithLogger(logger.Get()))

		Convey("A missing or empty image yields no variants", func() {
			set, err := g.Generate(context.Background(), nil)
			So(errors.Is(err, ErrSurface), ShouldBeTrue)
			So(set[0].Image, ShouldBeNil)

			_, err = g.Generate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 0, 5)))
			So(errors.Is(err, ErrSurface), ShouldBeTrue)
		})

		Convey("A cancelled context discards every variant", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			set, err := g.Generate(ctx, pattern(20, 20))
			So(errors.Is(err, ErrSurface), ShouldBeTrue)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			for _, v := range set {
				So(v.Image, ShouldBeNil)
			}
		})
	})
}
