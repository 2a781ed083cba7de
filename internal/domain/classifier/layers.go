package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/okian/herbid/internal/domain/tensor"
)

// layer is one stage of a sequential network operating on batch-1 NHWC
// tensors ([1,H,W,C]) or flat vectors ([1,N]).
type layer interface {
	Name() string
	OutputShape(in []int) ([]int, error)
	Forward(ctx context.Context, tr *tensor.Tracker, x *tensor.Tensor, training bool) (*tensor.Tensor, error)
	Params() []*tensor.Tensor
}

type activation int

const (
	linear activation = iota
	relu
	softmax
)

// glorot fills w with Glorot-uniform samples.
func glorot(rng *rand.Rand, w []float32, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}
}

// conv2d is a stride-1, valid-padding convolution.
// Kernel layout is [k, k, in, filters].
type conv2d struct {
	name    string
	kernel  int
	in      int
	filters int
	act     activation
	weights *tensor.Tensor
	bias    *tensor.Tensor
}

func newConv2D(tr *tensor.Tracker, rng *rand.Rand, name string, in, filters, kernel int, act activation) (*conv2d, error) {
	w, err := tr.New(kernel, kernel, in, filters)
	if err != nil {
		return nil, err
	}
	b, err := tr.New(filters)
	if err != nil {
		w.Release()
		return nil, err
	}
	glorot(rng, w.Data(), kernel*kernel*in, kernel*kernel*filters)
	return &conv2d{name: name, kernel: kernel, in: in, filters: filters, act: act, weights: w, bias: b}, nil
}

func (l *conv2d) Name() string             { return l.name }
func (l *conv2d) Params() []*tensor.Tensor { return []*tensor.Tensor{l.weights, l.bias} }

func (l *conv2d) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[3] != l.in || in[1] < l.kernel || in[2] < l.kernel {
		return nil, fmt.Errorf("%w: %s cannot take %v", ErrShape, l.name, in)
	}
	return []int{1, in[1] - l.kernel + 1, in[2] - l.kernel + 1, l.filters}, nil
}

func (l *conv2d) Forward(_ context.Context, tr *tensor.Tracker, x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	shape, err := l.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	out, err := tr.New(shape...)
	if err != nil {
		return nil, err
	}

	inW, c := x.Dim(2), l.in
	oh, ow, f := shape[1], shape[2], l.filters
	src, dst := x.Data(), out.Data()
	w, b := l.weights.Data(), l.bias.Data()
	k := l.kernel

	parallelRows(oh, func(y0, y1 int) {
		for oy := y0; oy < y1; oy++ {
			for ox := 0; ox < ow; ox++ {
				acc := dst[(oy*ow+ox)*f : (oy*ow+ox+1)*f]
				copy(acc, b)
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						px := src[((oy+ky)*inW+(ox+kx))*c : ((oy+ky)*inW+(ox+kx)+1)*c]
						wk := w[(ky*k+kx)*c*f:]
						for ci, v := range px {
							if v == 0 {
								continue
							}
							row := wk[ci*f : (ci+1)*f]
							for fi := range acc {
								acc[fi] += v * row[fi]
							}
						}
					}
				}
				if l.act == relu {
					reluInPlace(acc)
				}
			}
		}
	})
	return out, nil
}

// maxPool2d is a 2x2, stride-2, valid-padding max pool.
type maxPool2d struct {
	name string
}

func (l *maxPool2d) Name() string             { return l.name }
func (l *maxPool2d) Params() []*tensor.Tensor { return nil }

func (l *maxPool2d) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[1] < 2 || in[2] < 2 {
		return nil, fmt.Errorf("%w: %s cannot take %v", ErrShape, l.name, in)
	}
	return []int{1, in[1] / 2, in[2] / 2, in[3]}, nil
}

func (l *maxPool2d) Forward(_ context.Context, tr *tensor.Tracker, x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	shape, err := l.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	out, err := tr.New(shape...)
	if err != nil {
		return nil, err
	}
	inW, c := x.Dim(2), x.Dim(3)
	oh, ow := shape[1], shape[2]
	src, dst := x.Data(), out.Data()
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			o := dst[(oy*ow+ox)*c : (oy*ow+ox+1)*c]
			copy(o, src[((2*oy)*inW+2*ox)*c:])
			for _, p := range [3][2]int{{0, 1}, {1, 0}, {1, 1}} {
				in := src[((2*oy+p[0])*inW+2*ox+p[1])*c:]
				for ci := range o {
					if in[ci] > o[ci] {
						o[ci] = in[ci]
					}
				}
			}
		}
	}
	return out, nil
}

// globalAvgPool collapses [1,H,W,C] to [1,C].
type globalAvgPool struct {
	name string
}

func (l *globalAvgPool) Name() string             { return l.name }
func (l *globalAvgPool) Params() []*tensor.Tensor { return nil }

func (l *globalAvgPool) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 {
		return nil, fmt.Errorf("%w: %s cannot take %v", ErrShape, l.name, in)
	}
	return []int{1, in[3]}, nil
}

func (l *globalAvgPool) Forward(_ context.Context, tr *tensor.Tracker, x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	shape, err := l.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	out, err := tr.New(shape...)
	if err != nil {
		return nil, err
	}
	c := x.Dim(3)
	n := x.Dim(1) * x.Dim(2)
	src, dst := x.Data(), out.Data()
	sums := make([]float64, c)
	for p := 0; p < n; p++ {
		for ci, v := range src[p*c : (p+1)*c] {
			sums[ci] += float64(v)
		}
	}
	for ci := range dst {
		dst[ci] = float32(sums[ci] / float64(n))
	}
	return out, nil
}

// dense is a fully connected layer with weights laid out [in, units].
type dense struct {
	name    string
	in      int
	units   int
	act     activation
	weights *tensor.Tensor
	bias    *tensor.Tensor
}

func newDense(tr *tensor.Tracker, rng *rand.Rand, name string, in, units int, act activation) (*dense, error) {
	w, err := tr.New(in, units)
	if err != nil {
		return nil, err
	}
	b, err := tr.New(units)
	if err != nil {
		w.Release()
		return nil, err
	}
	glorot(rng, w.Data(), in, units)
	return &dense{name: name, in: in, units: units, act: act, weights: w, bias: b}, nil
}

func (l *dense) Name() string             { return l.name }
func (l *dense) Params() []*tensor.Tensor { return []*tensor.Tensor{l.weights, l.bias} }

func (l *dense) OutputShape(in []int) ([]int, error) {
	if len(in) != 2 || in[1] != l.in {
		return nil, fmt.Errorf("%w: %s cannot take %v", ErrShape, l.name, in)
	}
	return []int{1, l.units}, nil
}

func (l *dense) Forward(_ context.Context, tr *tensor.Tracker, x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	shape, err := l.OutputShape(x.Shape())
	if err != nil {
		return nil, err
	}
	out, err := tr.New(shape...)
	if err != nil {
		return nil, err
	}
	dst, w := out.Data(), l.weights.Data()
	copy(dst, l.bias.Data())
	for i, v := range x.Data() {
		row := w[i*l.units : (i+1)*l.units]
		for u := range dst {
			dst[u] += v * row[u]
		}
	}
	switch l.act {
	case relu:
		reluInPlace(dst)
	case softmax:
		softmaxInPlace(dst)
	}
	return out, nil
}

// dropout zeroes inputs with probability rate while training and rescales
// the survivors; at inference it passes its input through untouched.
type dropout struct {
	name string
	rate float64
	mu   sync.Mutex
	rng  *rand.Rand
}

func (l *dropout) Name() string                        { return l.name }
func (l *dropout) Params() []*tensor.Tensor            { return nil }
func (l *dropout) OutputShape(in []int) ([]int, error) { return append([]int(nil), in...), nil }

func (l *dropout) Forward(_ context.Context, tr *tensor.Tracker, x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if !training || l.rate <= 0 {
		return x, nil
	}
	out, err := tr.New(x.Shape()...)
	if err != nil {
		return nil, err
	}
	keep := 1 - l.rate
	l.mu.Lock()
	defer l.mu.Unlock()
	dst := out.Data()
	for i, v := range x.Data() {
		if l.rng.Float64() < keep {
			dst[i] = v / float32(keep)
		}
	}
	return out, nil
}

func reluInPlace(v []float32) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func softmaxInPlace(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - maxV))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}

// parallelRows splits [0,rows) across GOMAXPROCS goroutines.
func parallelRows(rows int, fn func(y0, y1 int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		fn(0, rows)
		return
	}
	chunk := (rows + workers - 1) / workers
	var wg sync.WaitGroup
	for y0 := 0; y0 < rows; y0 += chunk {
		y1 := min(y0+chunk, rows)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(y0, y1)
		}()
	}
	wg.Wait()
}
