// Package onnx runs an exported classifier through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/okian/herbid/internal/domain/classifier"
	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/tensor"
	"github.com/okian/herbid/pkg/logger"
)

// Backend names this adapter in model info.
const Backend = "onnx"

var (
	envMu   sync.Mutex
	envLib  string
	envInit bool
)

// initEnvironment loads the runtime library once per process.
func initEnvironment(lib string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envInit {
		if lib != "" && lib != envLib {
			return fmt.Errorf("%w: already initialized with %q", ErrRuntime, envLib)
		}
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	envLib, envInit = lib, true
	return nil
}

// Shutdown tears the runtime environment down. Sessions must be released first.
// It is a no-op when no session was ever opened.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !envInit {
		return nil
	}
	envInit = false
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return nil
}

// Builder returns a classifier.Builder backed by the model at modelPath.
// libPath may be empty to use the runtime's default library lookup.
// Session memory lives inside the runtime and is not reported to the tracker.
func Builder(modelPath, libPath string) classifier.Builder {
	return func(ctx context.Context, _ *tensor.Tracker, classes int) (classifier.Network, error) {
		if err := checkModelPath(modelPath); err != nil {
			return nil, err
		}
		if classes < 1 {
			return nil, fmt.Errorf("network needs at least one class, got %d", classes)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := initEnvironment(libPath); err != nil {
			return nil, err
		}
		return open(modelPath, classes)
	}
}

func checkModelPath(path string) error {
	if path == "" {
		return ErrModelPath
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelPath, err)
	}
	if st.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelPath, path)
	}
	return nil
}

type network struct {
	session *ort.DynamicAdvancedSession
	// channelsFirst is set for models exported with NCHW input.
	channelsFirst bool
	classes       int
	info          classifier.Info

	mu       sync.RWMutex
	released bool
}

func open(path string, classes int) (*network, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("%w: want one input and at least one output, got %d and %d", ErrModel, len(inputs), len(outputs))
	}

	in, out := inputs[0], outputs[0]
	layout, err := inputLayout(in.Dimensions)
	if err != nil {
		return nil, err
	}
	if err := outputWidth(out.Dimensions, classes); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{in.Name}, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}

	n := &network{
		session:       session,
		channelsFirst: layout,
		classes:       classes,
		info: classifier.Info{
			Backend:     Backend,
			InputShape:  append([]int(nil), preprocess.InputShape...),
			OutputShape: []int{1, classes},
			Layers:      1,
			LayerNames:  []string{in.Name + " -> " + out.Name},
		},
	}
	logger.Get().Named("onnx").Info(context.Background(), "onnx session opened",
		logger.String("model", path),
		logger.String("input", in.Name),
		logger.String("output", out.Name),
		logger.Bool("channels_first", layout))
	return n, nil
}

// inputLayout accepts [N,224,224,3] or [N,3,224,224]; dynamic dims are -1.
func inputLayout(dims ort.Shape) (channelsFirst bool, err error) {
	if len(dims) != 4 {
		return false, fmt.Errorf("%w: input rank %d, want 4", ErrModel, len(dims))
	}
	match := func(d int64, want int) bool { return d < 0 || d == int64(want) }
	switch {
	case match(dims[1], preprocess.Size) && match(dims[2], preprocess.Size) && dims[3] == preprocess.Channels:
		return false, nil
	case dims[1] == preprocess.Channels && match(dims[2], preprocess.Size) && match(dims[3], preprocess.Size):
		return true, nil
	default:
		return false, fmt.Errorf("%w: unsupported input shape %v", ErrModel, []int64(dims))
	}
}

func outputWidth(dims ort.Shape, classes int) error {
	if len(dims) == 0 {
		return fmt.Errorf("%w: scalar output", ErrModel)
	}
	if w := dims[len(dims)-1]; w > 0 && w != int64(classes) {
		return fmt.Errorf("%w: model has %d outputs, catalog has %d entries", ErrModel, w, classes)
	}
	return nil
}

// nchw converts a 1xHxWxC buffer into 1xCxHxW order.
func nchw(src []float32, h, w, c int) []float32 {
	dst := make([]float32, len(src))
	for y := range h {
		for x := range w {
			base := (y*w + x) * c
			for ch := range c {
				dst[ch*h*w+y*w+x] = src[base+ch]
			}
		}
	}
	return dst
}

func (n *network) Forward(ctx context.Context, in *tensor.Tensor) ([]float32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.released {
		return nil, classifier.ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := in.Data()
	shape := ort.NewShape(1, preprocess.Size, preprocess.Size, preprocess.Channels)
	if n.channelsFirst {
		data = nchw(data, preprocess.Size, preprocess.Size, preprocess.Channels)
		shape = ort.NewShape(1, preprocess.Channels, preprocess.Size, preprocess.Size)
	} else {
		// The runtime may write through its input buffer; never hand it ours.
		data = append([]float32(nil), data...)
	}

	input, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, fmt.Errorf("onnx input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n.classes)))
	if err != nil {
		return nil, fmt.Errorf("onnx output tensor: %w", err)
	}
	defer func() { _ = output.Destroy() }()

	if err := n.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return append([]float32(nil), output.GetData()...), nil
}

func (n *network) Info() classifier.Info { return n.info }

func (n *network) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.released {
		return
	}
	n.released = true
	if err := n.session.Destroy(); err != nil {
		logger.Get().Named("onnx").Warn(context.Background(), "session destroy failed", logger.Error(err))
	}
}
