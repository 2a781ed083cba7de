package classifier

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
)

func init() {
	_ = logger.Init()
}

const nativeParams = 128328

// stubNet returns fixed scores and tracks one parameter buffer.
type stubNet struct {
	scores []float32
	param  *tensor.Tensor
	calls  atomic.Int64
}

func (s *stubNet) Forward(context.Context, *tensor.Tensor) ([]float32, error) {
	s.calls.Add(1)
	return append([]float32(nil), s.scores...), nil
}

func (s *stubNet) Info() Info {
	return Info{Backend: "stub", InputShape: preprocess.InputShape, OutputShape: []int{1, len(s.scores)}}
}

func (s *stubNet) Release() { s.param.Release() }

func stubBuilder(scores []float32) Builder {
	return func(_ context.Context, tr *tensor.Tracker, _ int) (Network, error) {
		p, err := tr.New(16)
		if err != nil {
			return nil, err
		}
		return &stubNet{scores: scores, param: p}, nil
	}
}

func input(tr *tensor.Tracker) *tensor.Tensor {
	x, err := tr.New(preprocess.InputShape...)
	if err != nil {
		panic(err)
	}
	for i := range x.Data() {
		x.Data()[i] = float32(i%255) / 255
	}
	return x
}

func TestNativeHandleLifecycle(t *testing.T) {
	Convey("Given a handle over the reference catalog", t, func() {
		ctx := context.Background()
		tr := tensor.NewTracker()
		h := NewHandle(catalog.MustDefault(), WithTracker(tr))

		So(h.Ready(), ShouldBeFalse)
		So(h.Info(), ShouldBeNil)
		So(h.Labels(), ShouldBeEmpty)

		Convey("Predict before load fails with ErrNotLoaded", func() {
			in := input(tr)
			defer in.Release()
			_, err := h.Predict(ctx, in)
			So(errors.Is(err, ErrNotLoaded), ShouldBeTrue)
		})

		Convey("Load builds the fixed topology", func() {
			So(h.Load(ctx), ShouldBeTrue)
			info := h.Info()
			So(info, ShouldNotBeNil)
			So(info.Backend, ShouldEqual, BackendNative)
			So(info.InputShape, ShouldResemble, []int{1, 224, 224, 3})
			So(info.OutputShape, ShouldResemble, []int{1, 8})
			So(info.TrainableParams, ShouldEqual, nativeParams)
			So(info.Layers, ShouldEqual, 9)
			So(tr.Bytes(), ShouldEqual, int64(nativeParams*4))

			labels := h.Labels()
			So(labels, ShouldHaveLength, 8)
			So(labels[2], ShouldResemble, Label{ID: "3", Name: "黄芪"})

			Convey("A second load is a no-op that allocates nothing", func() {
				before, count := tr.Bytes(), tr.Count()
				So(h.Load(ctx), ShouldBeTrue)
				So(tr.Bytes(), ShouldEqual, before)
				So(tr.Count(), ShouldEqual, count)
			})

			Convey("Predict returns one probability per class and leaks nothing", func() {
				in := input(tr)
				scores, err := h.Predict(ctx, in)
				So(err, ShouldBeNil)
				So(scores, ShouldHaveLength, 8)
				var sum float64
				for _, s := range scores {
					So(math.IsNaN(float64(s)) || math.IsInf(float64(s), 0), ShouldBeFalse)
					sum += float64(s)
				}
				So(sum, ShouldAlmostEqual, 1, 1e-4)
				So(tr.Bytes(), ShouldEqual, int64(nativeParams*4)+in.Bytes())
				in.Release()

				Convey("Dispose frees parameters and blocks Predict until reload", func() {
					h.Dispose()
					So(h.Ready(), ShouldBeFalse)
					So(h.Info(), ShouldBeNil)
					So(tr.Bytes(), ShouldEqual, 0)

					in := input(tr)
					defer in.Release()
					_, err := h.Predict(ctx, in)
					So(errors.Is(err, ErrNotLoaded), ShouldBeTrue)

					So(h.Load(ctx), ShouldBeTrue)
					again, err := h.Predict(ctx, in)
					So(err, ShouldBeNil)
					So(again, ShouldResemble, scores)
				})
			})

			Convey("Inputs of the wrong shape are rejected", func() {
				bad, _ := tr.New(1, 224, 224, 4)
				defer bad.Release()
				_, err := h.Predict(ctx, bad)
				So(errors.Is(err, ErrShape), ShouldBeTrue)

				_, err = h.Predict(ctx, nil)
				So(errors.Is(err, ErrShape), ShouldBeTrue)
			})

			Convey("A cancelled context aborts the forward pass", func() {
				in := input(tr)
				defer in.Release()
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := h.Predict(cctx, in)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				So(tr.Bytes(), ShouldEqual, int64(nativeParams*4)+in.Bytes())
			})
		})

		Reset(func() { h.Dispose() })
	})
}

func TestHandleLoadFailures(t *testing.T) {
	Convey("Given builders that cannot produce a usable network", t, func() {
		ctx := context.Background()
		cat := catalog.MustDefault()

		Convey("An output width that disagrees with the catalog fails loudly", func() {
			tr := tensor.NewTracker()
			h := NewHandle(cat, WithTracker(tr), WithBuilder(stubBuilder(make([]float32, 5))))
			So(h.Load(ctx), ShouldBeFalse)
			So(h.Ready(), ShouldBeFalse)
			So(errors.Is(h.LastError(), ErrLoad), ShouldBeTrue)
			So(tr.Bytes(), ShouldEqual, 0)
		})

		Convey("Builder errors are reported as false", func() {
			h := NewHandle(cat, WithBuilder(func(context.Context, *tensor.Tracker, int) (Network, error) {
				return nil, errors.New("out of memory")
			}))
			So(h.Load(ctx), ShouldBeFalse)
			So(h.LastError().Error(), ShouldContainSubstring, "out of memory")
		})

		Convey("Builder panics never escape Load", func() {
			h := NewHandle(cat, WithBuilder(func(context.Context, *tensor.Tracker, int) (Network, error) {
				panic("boom")
			}))
			So(func() { h.Load(ctx) }, ShouldNotPanic)
			So(errors.Is(h.LastError(), ErrLoad), ShouldBeTrue)
		})

		Convey("A nil catalog cannot be loaded", func() {
			h := NewHandle(nil)
			So(h.Load(ctx), ShouldBeFalse)
		})

		Convey("A later successful load clears the error", func() {
			calls := 0
			h := NewHandle(cat, WithBuilder(func(c context.Context, tr *tensor.Tracker, n int) (Network, error) {
				calls++
				if calls == 1 {
					return nil, errors.New("transient")
				}
				return stubBuilder(make([]float32, n))(c, tr, n)
			}))
			So(h.Load(ctx), ShouldBeFalse)
			So(h.Load(ctx), ShouldBeTrue)
			So(h.LastError(), ShouldBeNil)
		})
	})
}

func TestHandleConcurrency(t *testing.T) {
	Convey("Concurrent predictions interleave safely with dispose and reload", t, func() {
		ctx := context.Background()
		tr := tensor.NewTracker()
		h := NewHandle(catalog.MustDefault(), WithTracker(tr), WithBuilder(stubBuilder(make([]float32, 8))))
		So(h.Load(ctx), ShouldBeTrue)

		in := input(tr)
		defer in.Release()

		var ok, notLoaded, other atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_, err := h.Predict(ctx, in)
					switch {
					case err == nil:
						ok.Add(1)
					case errors.Is(err, ErrNotLoaded):
						notLoaded.Add(1)
					default:
						other.Add(1)
					}
				}
			}()
		}
		for i := 0; i < 10; i++ {
			h.Dispose()
			h.Load(ctx)
		}
		wg.Wait()

		So(other.Load(), ShouldEqual, 0)
		So(ok.Load()+notLoaded.Load(), ShouldEqual, 16*50)
		So(h.Ready(), ShouldBeTrue)
		So(tr.Bytes(), ShouldEqual, int64(16*4)+in.Bytes())
	})
}

func TestHandleClassify(t *testing.T) {
	Convey("Classify pairs scores with the labels of the loaded network", t, func() {
		ctx := context.Background()
		scores := []float32{0.1, 0.05, 0.6, 0.05, 0.05, 0.05, 0.05, 0.05}
		h := NewHandle(catalog.MustDefault(), WithBuilder(stubBuilder(scores)))
		in := input(h.Tracker())
		defer in.Release()

		_, err := h.Classify(ctx, in)
		So(errors.Is(err, ErrNotLoaded), ShouldBeTrue)

		So(h.Load(ctx), ShouldBeTrue)
		got, err := h.Classify(ctx, in)
		So(err, ShouldBeNil)
		So(got.Values, ShouldResemble, scores)
		So(got.Labels, ShouldHaveLength, 8)
		So(got.Labels[2].ID, ShouldEqual, "3")
	})
}
