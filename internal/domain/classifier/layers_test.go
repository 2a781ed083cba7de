package classifier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/herbid/internal/domain/tensor"
)

func filled(tr *tensor.Tracker, data []float32, shape ...int) *tensor.Tensor {
	x, err := tr.FromData(data, shape...)
	if err != nil {
		panic(err)
	}
	return x
}

func TestLayers(t *testing.T) {
	Convey("Given small tensors", t, func() {
		ctx := context.Background()
		tr := tensor.NewTracker()
		rng := rand.New(rand.NewSource(1))

		Convey("conv2d sums the window, adds bias and applies relu", func() {
			l, err := newConv2D(tr, rng, "c", 1, 2, 3, relu)
			So(err, ShouldBeNil)
			w := l.weights.Data()
			for i := 0; i < len(w); i += 2 {
				w[i], w[i+1] = 1, -1
			}
			l.bias.Data()[0] = 0.5

			in := filled(tr, []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, 1, 3, 4, 1)
			out, err := l.Forward(ctx, tr, in, false)
			So(err, ShouldBeNil)
			So(out.Shape(), ShouldResemble, []int{1, 1, 2, 2})
			So(out.Data(), ShouldResemble, []float32{9.5, 0, 9.5, 0})

			_, err = l.Forward(ctx, tr, filled(tr, make([]float32, 4), 1, 2, 2, 1), false)
			So(errors.Is(err, ErrShape), ShouldBeTrue)
		})

		Convey("maxPool2d keeps the largest value of each 2x2 window", func() {
			l := &maxPool2d{name: "p"}
			in := filled(tr, []float32{
				1, 5, 0,
				3, 2, 9,
				7, 7, 7,
			}, 1, 3, 3, 1)
			out, err := l.Forward(ctx, tr, in, false)
			So(err, ShouldBeNil)
			So(out.Shape(), ShouldResemble, []int{1, 1, 1, 1})
			So(out.Data()[0], ShouldEqual, 5)
		})

		Convey("globalAvgPool averages each channel", func() {
			l := &globalAvgPool{name: "g"}
			in := filled(tr, []float32{1, 10, 2, 20, 3, 30, 4, 40}, 1, 2, 2, 2)
			out, err := l.Forward(ctx, tr, in, false)
			So(err, ShouldBeNil)
			So(out.Data(), ShouldResemble, []float32{2.5, 25})
		})

		Convey("dense with softmax yields a distribution", func() {
			l, err := newDense(tr, rng, "d", 4, 8, softmax)
			So(err, ShouldBeNil)
			out, err := l.Forward(ctx, tr, filled(tr, []float32{0.1, 0.2, 0.3, 0.4}, 1, 4), false)
			So(err, ShouldBeNil)
			var sum float64
			for _, v := range out.Data() {
				So(v, ShouldBeGreaterThan, 0)
				sum += float64(v)
			}
			So(sum, ShouldAlmostEqual, 1, 1e-5)
		})

		Convey("dropout is a no-op at inference and zeroes inputs while training", func() {
			l := &dropout{name: "drop", rate: 0.5, rng: rand.New(rand.NewSource(3))}
			in := filled(tr, make([]float32, 1000), 1, 1000)
			for i := range in.Data() {
				in.Data()[i] = 1
			}
			same, err := l.Forward(ctx, tr, in, false)
			So(err, ShouldBeNil)
			So(same, ShouldEqual, in)

			trained, err := l.Forward(ctx, tr, in, true)
			So(err, ShouldBeNil)
			zeros := 0
			for _, v := range trained.Data() {
				So(v == 0 || v == 2, ShouldBeTrue)
				if v == 0 {
					zeros++
				}
			}
			So(zeros, ShouldBeBetween, 400, 600)
		})

		Convey("softmax is stable for large inputs", func() {
			v := []float32{1000, 1000, -1000}
			softmaxInPlace(v)
			So(math.IsNaN(float64(v[0])), ShouldBeFalse)
			So(v[0], ShouldAlmostEqual, 0.5, 1e-6)
			So(v[2], ShouldAlmostEqual, 0, 1e-6)
		})
	})
}
