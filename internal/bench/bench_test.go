package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/herbid/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() { _ = logger.Init() }

func goodResponse() PredictResponse {
	return PredictResponse{
		RecordID: "r",
		Accuracy: 0.5,
		Predictions: []Entry{
			{Rank: 1, HerbID: "3", Confidence: 0.5},
			{Rank: 2, HerbID: "1", Confidence: 0.3},
			{Rank: 3, HerbID: "2", Confidence: 0.2},
		},
	}
}

func TestVerifyPrediction(t *testing.T) {
	Convey("Ranking invariants", t, func() {
		So(verifyPrediction(goodResponse(), 3), ShouldBeNil)
		So(verifyPrediction(goodResponse(), 0), ShouldBeNil)

		Convey("Wrong length", func() {
			So(verifyPrediction(goodResponse(), 8), ShouldNotBeNil)
			So(errors.Is(verifyPrediction(PredictResponse{}, 0), errNoPredictions), ShouldBeTrue)
		})

		Convey("Out of order confidences", func() {
			r := goodResponse()
			r.Predictions[2].Confidence = 0.4
			So(verifyPrediction(r, 3), ShouldNotBeNil)
		})

		Convey("Non-sequential ranks", func() {
			r := goodResponse()
			r.Predictions[1].Rank = 3
			So(verifyPrediction(r, 3), ShouldNotBeNil)
		})

		Convey("Duplicate herbs", func() {
			r := goodResponse()
			r.Predictions[1].HerbID = "3"
			So(verifyPrediction(r, 3), ShouldNotBeNil)
		})

		Convey("Accuracy differs from the top confidence", func() {
			r := goodResponse()
			r.Accuracy = 0.9
			So(verifyPrediction(r, 3), ShouldNotBeNil)
		})
	})
}

func TestRenderGradient(t *testing.T) {
	Convey("Generated images decode at the requested size", t, func() {
		data, err := renderGradient(16)
		So(err, ShouldBeNil)
		img, err := png.Decode(bytes.NewReader(data))
		So(err, ShouldBeNil)
		So(img.Bounds().Dx(), ShouldEqual, 16)
		So(img.Bounds().Dy(), ShouldEqual, 16)
	})
}

func fakeServer(predict func(w http.ResponseWriter)) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	mux.HandleFunc("/herbs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1"},{"id":"2"},{"id":"3"}]`))
	})
	mux.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("image"); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		predict(w)
	})
	return httptest.NewServer(mux)
}

func TestRun(t *testing.T) {
	Convey("Given a server that ranks correctly", t, func() {
		srv := fakeServer(func(w http.ResponseWriter) {
			_ = json.NewEncoder(w).Encode(goodResponse())
		})
		defer srv.Close()

		dir := filepath.Join(t.TempDir(), "out")
		stats, err := Run(context.Background(), &Config{
			BaseURL: srv.URL, Images: 6, Workers: 3, Size: 8, Timeout: 5 * time.Second, OutputDir: dir,
		})
		So(err, ShouldBeNil)
		So(stats.Herbs, ShouldEqual, 3)
		So(stats.ImagesGenerated, ShouldEqual, 6)
		So(stats.Submitted, ShouldEqual, 6)
		So(stats.Successful, ShouldEqual, 6)
		So(stats.Violations, ShouldEqual, 0)

		files, err := os.ReadDir(dir)
		So(err, ShouldBeNil)
		So(len(files), ShouldEqual, 6)
	})

	Convey("Given a server that breaks the ranking and sheds load", t, func() {
		var calls atomic.Int64
		srv := fakeServer(func(w http.ResponseWriter) {
			if calls.Add(1)%2 == 0 {
				w.WriteHeader(StatusTooManyRequests)
				return
			}
			r := goodResponse()
			r.Predictions[0], r.Predictions[1] = r.Predictions[1], r.Predictions[0]
			_ = json.NewEncoder(w).Encode(r)
		})
		defer srv.Close()

		stats, err := Run(context.Background(), &Config{
			BaseURL: srv.URL, Images: 4, Workers: 2, Size: 8, Timeout: 5 * time.Second,
		})
		So(errors.Is(err, ErrViolations), ShouldBeTrue)
		So(stats.Backpressured, ShouldEqual, 2)
		So(stats.Violations, ShouldEqual, 2)
	})

	Convey("Invalid configuration is rejected", t, func() {
		_, err := Run(context.Background(), &Config{Images: 0, Workers: 1})
		So(err, ShouldNotBeNil)
	})
}
