package classifier

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/tensor"
)

// BackendNative names the built-in network.
const BackendNative = "native"

const (
	dropoutRate = 0.5
	hiddenUnits = 256
	kernelSize  = 3
)

// NativeBuilder returns a Builder for the pure-Go network:
//
//	conv 32 -> maxpool -> conv 64 -> maxpool -> conv 128 -> global avg pool
//	-> dense 256 relu -> dropout 0.5 -> dense N softmax
//
// Parameters are freshly initialized from seed; the network is untrained.
func NativeBuilder(seed int64) Builder {
	return func(ctx context.Context, tr *tensor.Tracker, classes int) (Network, error) {
		if classes < 1 {
			return nil, fmt.Errorf("network needs at least one class, got %d", classes)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return newSequential(tr, rand.New(rand.NewSource(seed)), classes)
	}
}

type sequential struct {
	tracker *tensor.Tracker
	layers  []layer
	info    Info
}

func newSequential(tr *tensor.Tracker, rng *rand.Rand, classes int) (_ *sequential, err error) {
	s := &sequential{tracker: tr}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	add := func(l layer, err error) error {
		if err != nil {
			return err
		}
		s.layers = append(s.layers, l)
		return nil
	}
	steps := []func() error{
		func() error { return add(newConv2D(tr, rng, "conv2d_1", preprocess.Channels, 32, kernelSize, relu)) },
		func() error { return add(&maxPool2d{name: "max_pooling2d_1"}, nil) },
		func() error { return add(newConv2D(tr, rng, "conv2d_2", 32, 64, kernelSize, relu)) },
		func() error { return add(&maxPool2d{name: "max_pooling2d_2"}, nil) },
		func() error { return add(newConv2D(tr, rng, "conv2d_3", 64, 128, kernelSize, relu)) },
		func() error { return add(&globalAvgPool{name: "global_average_pooling2d_1"}, nil) },
		func() error { return add(newDense(tr, rng, "dense_1", 128, hiddenUnits, relu)) },
		func() error {
			return add(&dropout{name: "dropout_1", rate: dropoutRate, rng: rand.New(rand.NewSource(rng.Int63()))}, nil)
		},
		func() error { return add(newDense(tr, rng, "dense_2", hiddenUnits, classes, softmax)) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	shape := append([]int(nil), preprocess.InputShape...)
	names := make([]string, 0, len(s.layers))
	params := 0
	for _, l := range s.layers {
		if shape, err = l.OutputShape(shape); err != nil {
			return nil, err
		}
		for _, p := range l.Params() {
			params += p.Len()
		}
		names = append(names, l.Name())
	}
	s.info = Info{
		Backend:         BackendNative,
		InputShape:      append([]int(nil), preprocess.InputShape...),
		OutputShape:     shape,
		TrainableParams: params,
		Layers:          len(s.layers),
		LayerNames:      names,
	}
	return s, nil
}

func (s *sequential) Info() Info { return s.info.clone() }

func (s *sequential) Forward(ctx context.Context, in *tensor.Tensor) ([]float32, error) {
	return s.run(ctx, in, false)
}

func (s *sequential) run(ctx context.Context, in *tensor.Tensor, training bool) ([]float32, error) {
	x := in
	defer func() {
		if x != in {
			x.Release()
		}
	}()
	for _, l := range s.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y, err := l.Forward(ctx, s.tracker, x, training)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.Name(), err)
		}
		if y != x && x != in {
			x.Release()
		}
		x = y
	}
	return append([]float32(nil), x.Data()...), nil
}

func (s *sequential) Release() {
	for _, l := range s.layers {
		tensor.ReleaseAll(l.Params()...)
	}
	s.layers = nil
}
