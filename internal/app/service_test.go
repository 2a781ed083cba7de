package service_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	service "github.com/okian/herbid/internal/app"
	"github.com/okian/herbid/internal/config"
	"github.com/okian/herbid/internal/domain/catalog"
	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/history"
	"github.com/okian/herbid/internal/domain/model"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fixedNet returns the same scores for every input.
type fixedNet struct{ scores []float32 }

func (n fixedNet) Forward(context.Context, *tensor.Tensor) ([]float32, error) {
	return append([]float32(nil), n.scores...), nil
}

func (n fixedNet) Info() classifier.Info {
	return classifier.Info{Backend: "fixed", InputShape: []int{1, 224, 224, 3}, OutputShape: []int{1, len(n.scores)}, Layers: 1}
}

func (fixedNet) Release() {}

// Index i of the default catalog holds herb id i+1.
var defaultScores = []float32{0.20, 0.15, 0.30, 0.10, 0.08, 0.07, 0.06, 0.04}

func fixedBuilder(scores []float32) classifier.Builder {
	return func(context.Context, *tensor.Tracker, int) (classifier.Network, error) {
		return fixedNet{scores: scores}, nil
	}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 8
	cfg.MaxHistoryLimit = 3
	cfg.InferenceTimeoutMS = 5_000
	return cfg
}

func newService(opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithConfig(testConfig()),
		service.WithBuilder(fixedBuilder(defaultScores)),
	}, opts...)
	svc, err := service.New(opts...)
	So(err, ShouldBeNil)
	return svc
}

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService()
		defer svc.Stop()

		Convey("Before Start predictions are refused and stats are basic", func() {
			_, _, err := svc.Predict(context.Background(), solid(color.White), "png")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)

			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["modelReady"], ShouldEqual, false)
			So(stats["herbs"], ShouldEqual, 8)
		})

		Convey("When started", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then the model is loaded and the service reports it", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["modelReady"], ShouldEqual, true)

				info, err := svc.ModelInfo(ctx)
				So(err, ShouldBeNil)
				So(info.Classes(), ShouldEqual, 8)
			})

			Convey("And Stop disposes the model", func() {
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
				_, err := svc.ModelInfo(ctx)
				So(errors.Is(err, classifier.ErrNotLoaded), ShouldBeTrue)
			})
		})
	})
}

func TestService_Predict(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := newService()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When predicting a solid image", func() {
			m, rec, err := svc.Predict(ctx, solid(color.RGBA{R: 255, A: 255}), "png")
			So(err, ShouldBeNil)

			Convey("Then candidates are ranked and recorded", func() {
				So(len(m.Predictions), ShouldEqual, 8)
				So(m.Predictions[0].HerbID, ShouldEqual, "3")
				So(m.Predictions[1].HerbID, ShouldEqual, "1")
				So(m.Accuracy, ShouldAlmostEqual, 0.30, 1e-6)

				So(rec, ShouldNotBeNil)
				So(rec.HerbID, ShouldEqual, "3")
				So(rec.ImageWidth, ShouldEqual, 10)
				So(rec.ImageFormat, ShouldEqual, "png")

				hist := svc.History(ctx, 0)
				So(len(hist), ShouldEqual, 1)
				So(hist[0].ID, ShouldEqual, rec.ID)
			})

			Convey("And feedback can reference the record", func() {
				fb, err := svc.SubmitFeedback(ctx, model.Feedback{
					PredictionID:   rec.ID,
					ActualHerbName: rec.HerbName,
					UserRating:     5,
				})
				So(err, ShouldBeNil)
				So(fb.IsCorrect, ShouldBeTrue)

				stats := svc.Stats(ctx)
				So(stats.TotalPredictions, ShouldEqual, 1)
				So(stats.CorrectPredictions, ShouldEqual, 1)
				So(stats.UserSatisfaction, ShouldEqual, 5.0)
				So(len(svc.Feedback(ctx, 10)), ShouldEqual, 1)
			})
		})

		Convey("When the model is disposed", func() {
			svc.DisposeModel(ctx)
			_, _, err := svc.Predict(ctx, solid(color.White), "png")

			Convey("Then predictions fail as not loaded until reloaded", func() {
				So(errors.Is(err, classifier.ErrNotLoaded), ShouldBeTrue)
				So(svc.LoadModel(ctx), ShouldBeNil)
				_, _, err = svc.Predict(ctx, solid(color.White), "png")
				So(err, ShouldBeNil)
			})
		})

		Convey("When history exceeds the configured limit", func() {
			for i := 0; i < 5; i++ {
				_, _, err := svc.Predict(ctx, solid(color.White), "png")
				So(err, ShouldBeNil)
			}
			So(len(svc.History(ctx, 0)), ShouldEqual, 3)
			So(len(svc.History(ctx, 2)), ShouldEqual, 2)
			So(len(svc.History(ctx, 50)), ShouldEqual, 3)
		})
	})
}

func TestService_Catalog(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := newService()
		ctx := context.Background()

		So(len(svc.Search(ctx, "")), ShouldEqual, 8)
		So(len(svc.Search(ctx, "补气")), ShouldBeGreaterThan, 0)

		e, err := svc.Herb(ctx, "3")
		So(err, ShouldBeNil)
		So(e.Name, ShouldEqual, "黄芪")

		_, err = svc.Herb(ctx, "404")
		So(errors.Is(err, catalog.ErrNotFound), ShouldBeTrue)
	})

	Convey("Given a catalog override file", t, func() {
		path := filepath.Join(t.TempDir(), "herbs.toml")
		data := "[[herb]]\nid = \"a\"\nname = \"甲\"\n\n[[herb]]\nid = \"b\"\nname = \"乙\"\n"
		So(os.WriteFile(path, []byte(data), 0o600), ShouldBeNil)

		cfg := testConfig()
		cfg.CatalogPath = path
		svc, err := service.New(service.WithConfig(cfg), service.WithBuilder(fixedBuilder([]float32{0.4, 0.6})))
		So(err, ShouldBeNil)
		So(svc.Catalog().Len(), ShouldEqual, 2)

		Convey("A missing override fails construction", func() {
			cfg := testConfig()
			cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.toml")
			_, err := service.New(service.WithConfig(cfg))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestService_ModelLoadFailure(t *testing.T) {
	Convey("Given a builder with the wrong output width", t, func() {
		svc, err := service.New(
			service.WithConfig(testConfig()),
			service.WithBuilder(fixedBuilder([]float32{1, 2, 3})),
			service.WithHistory(history.NewInMemoryStore()),
		)
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("Start still succeeds but the model is not ready", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			err := svc.LoadModel(ctx)
			So(errors.Is(err, classifier.ErrLoad), ShouldBeTrue)

			_, _, err = svc.Predict(ctx, solid(color.White), "png")
			So(errors.Is(err, classifier.ErrNotLoaded), ShouldBeTrue)
		})
	})
}

func TestService_ONNXBackend(t *testing.T) {
	Convey("Given the onnx backend without a model file", t, func() {
		cfg := testConfig()
		cfg.ModelBackend = config.BackendONNX
		cfg.ONNXModelPath = ""
		svc, err := service.New(service.WithConfig(cfg))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("The service can be stopped and started again", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["modelReady"], ShouldEqual, false)
			So(func() { svc.Stop() }, ShouldNotPanic)
			So(svc.GetStats()["started"], ShouldEqual, false)

			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, true)
		})
	})
}

func TestService_Augment(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := newService()
		set, err := svc.Augment(context.Background(), solid(color.RGBA{G: 200, A: 255}))
		So(err, ShouldBeNil)
		So(set[0].Name, ShouldEqual, "original")
		So(set[3].Name, ShouldEqual, "brighten")
	})
}
