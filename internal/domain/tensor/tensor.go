// Package tensor provides float32 buffers whose lifetime is accounted by a
// Tracker. Every tensor must be released exactly once by its owner; Release
// is idempotent so deferred releases on error paths are safe.
package tensor

import (
	"fmt"
	"sync/atomic"
)

const bytesPerElement = 4

// Tracker counts live tensors and the bytes they hold.
type Tracker struct {
	bytes atomic.Int64
	count atomic.Int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Bytes returns the resident byte count.
func (t *Tracker) Bytes() int64 { return t.bytes.Load() }

// Count returns the number of live tensors.
func (t *Tracker) Count() int64 { return t.count.Load() }

// New allocates a zeroed tensor of the given shape.
func (t *Tracker) New(shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	return t.adopt(make([]float32, n), shape), nil
}

// FromData wraps data, which must match shape, without copying.
func (t *Tracker) FromData(data []float32, shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return t.adopt(data, shape), nil
}

func (t *Tracker) adopt(data []float32, shape []int) *Tensor {
	x := &Tensor{
		shape:   append([]int(nil), shape...),
		data:    data,
		tracker: t,
	}
	t.bytes.Add(x.Bytes())
	t.count.Add(1)
	return x
}

// Tensor is a dense row-major float32 buffer.
type Tensor struct {
	shape    []int
	data     []float32
	tracker  *Tracker
	released atomic.Bool
}

// Shape returns a copy of the dimensions.
func (x *Tensor) Shape() []int { return append([]int(nil), x.shape...) }

// Rank returns the number of dimensions.
func (x *Tensor) Rank() int { return len(x.shape) }

// Dim returns dimension i.
func (x *Tensor) Dim(i int) int { return x.shape[i] }

// Data exposes the backing slice. It must not be used after Release.
func (x *Tensor) Data() []float32 { return x.data }

// Len returns the element count.
func (x *Tensor) Len() int { return len(x.data) }

// Bytes returns the buffer size in bytes.
func (x *Tensor) Bytes() int64 { return int64(len(x.data)) * bytesPerElement }

// HasShape reports whether the tensor has exactly the given dimensions.
func (x *Tensor) HasShape(dims ...int) bool {
	if len(dims) != len(x.shape) {
		return false
	}
	for i, d := range dims {
		if x.shape[i] != d {
			return false
		}
	}
	return true
}

// Released reports whether Release has been called.
func (x *Tensor) Released() bool { return x.released.Load() }

// Release returns the buffer to the tracker. Calling it again is a no-op.
func (x *Tensor) Release() {
	if x == nil || !x.released.CompareAndSwap(false, true) {
		return
	}
	if x.tracker != nil {
		x.tracker.bytes.Add(-x.Bytes())
		x.tracker.count.Add(-1)
	}
	x.data = nil
}

// ReleaseAll releases every tensor in xs.
func ReleaseAll(xs ...*Tensor) {
	for _, x := range xs {
		x.Release()
	}
}

func numElements(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}
