package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("NewManager registers collectors with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			So(m, ShouldNotBeNil)
			So(m.RefreshInterval(), ShouldEqual, 5*time.Second)
			So(m.Enabled(), ShouldBeTrue)

			m.predictions.Inc()
			families, err := registry.Gather()
			So(err, ShouldBeNil)
			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["test_unit_predictions_total"], ShouldBeTrue)
		})

		Convey("Zero-valued options keep defaults", func() {
			m := NewManager(WithNamespace(""), WithRefreshInterval(0), WithPrometheusRegistry(registry))
			So(m.namespace, ShouldEqual, "herbid")
			So(m.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})

		Convey("Registering the same collectors twice panics", func() {
			NewManager(WithPrometheusRegistry(registry))
			So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		before, err := Sum("herbid_inference_predictions_total")
		So(err, ShouldBeNil)

		RecordPrediction(12*time.Millisecond, 0.6)
		RecordPredictionError("decode")
		RecordScoreSubstitutions(2)
		RecordScoreSubstitutions(0)
		RecordModelLoad(true)
		UpdateModelReady(true)
		UpdateTensorMemory(1024, 3)
		RecordHTTPRequest("predict", "POST", "200")
		RecordHTTPRequestDuration("predict", "POST", "200", 3)

		after, err := Sum("herbid_inference_predictions_total")
		So(err, ShouldBeNil)
		So(after-before, ShouldEqual, 1)

		ready, err := Sum("herbid_inference_model_ready")
		So(err, ShouldBeNil)
		So(ready, ShouldEqual, 1)

		bytes, err := Sum("herbid_inference_tensor_resident_bytes")
		So(err, ShouldBeNil)
		So(bytes, ShouldEqual, 1024)

		_, err = Sum("does_not_exist")
		So(errors.Is(err, ErrMetricNotFound), ShouldBeTrue)
	})
}

func TestConfigure(t *testing.T) {
	Convey("Configure swaps the global collectors onto a new registry", t, func() {
		prevManager, prevRegistry := globalManager, customRegistry
		defer func() { globalManager, customRegistry = prevManager, prevRegistry }()

		m := Configure(
			WithSubsystem("edge"),
			WithMetricPrefix("v2_"),
			WithCustomLabels(map[string]string{"site": "greenhouse"}),
			WithHistogramBuckets([]float64{5, 50}),
		)
		So(GetRegistry() == prevRegistry, ShouldBeFalse)
		So(m.Enabled(), ShouldBeTrue)

		RecordPrediction(7*time.Millisecond, 0.4)
		n, err := Sum("herbid_edge_v2_predictions_total")
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 1)

		families, err := GetRegistry().Gather()
		So(err, ShouldBeNil)
		for _, f := range families {
			if f.GetName() != "herbid_edge_v2_predictions_total" {
				continue
			}
			labels := f.GetMetric()[0].GetLabel()
			So(labels, ShouldHaveLength, 1)
			So(labels[0].GetName(), ShouldEqual, "site")
			So(labels[0].GetValue(), ShouldEqual, "greenhouse")
		}

		Convey("And a disabled manager records nothing", func() {
			Configure(WithMetricsEnabled(false))
			RecordPrediction(time.Millisecond, 1)
			n, err := Sum("herbid_inference_predictions_total")
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Recorders are no-ops when disabled", t, func() {
		prev := globalManager
		globalManager = NewManager(WithMetricsEnabled(false))
		defer func() { globalManager = prev }()

		So(func() {
			RecordPrediction(time.Millisecond, 1)
			RecordFeedback(true)
			UpdateQueueSize(3)
		}, ShouldNotPanic)
	})
}
