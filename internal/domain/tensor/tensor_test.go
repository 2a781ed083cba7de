package tensor

import (
	"errors"
	"testing"
)

func TestTrackerAccounting(t *testing.T) {
	tr := NewTracker()

	a, err := tr.New(1, 224, 224, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := tr.FromData(make([]float32, 6), 2, 3)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}

	if got, want := tr.Bytes(), int64(224*224*3*4+6*4); got != want {
		t.Errorf("Bytes() = %d, want %d", got, want)
	}
	if got := tr.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	a.Release()
	a.Release()
	if got := tr.Bytes(); got != 24 {
		t.Errorf("after release Bytes() = %d, want 24", got)
	}
	if !a.Released() || a.Data() != nil {
		t.Error("released tensor still holds data")
	}

	ReleaseAll(b, nil)
	if tr.Bytes() != 0 || tr.Count() != 0 {
		t.Errorf("tracker not empty: %d bytes, %d tensors", tr.Bytes(), tr.Count())
	}
}

func TestShapes(t *testing.T) {
	tr := NewTracker()

	tests := []struct {
		name  string
		shape []int
		data  []float32
	}{
		{"empty shape", nil, nil},
		{"zero dim", []int{1, 0}, nil},
		{"negative dim", []int{-1, 3}, nil},
		{"length mismatch", []int{2, 2}, make([]float32, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.data != nil {
				_, err = tr.FromData(tt.data, tt.shape...)
			} else {
				_, err = tr.New(tt.shape...)
			}
			if !errors.Is(err, ErrShape) {
				t.Errorf("err = %v, want ErrShape", err)
			}
		})
	}
	if tr.Count() != 0 {
		t.Errorf("failed allocations were tracked: %d", tr.Count())
	}

	x, _ := tr.New(1, 224, 224, 3)
	defer x.Release()
	if !x.HasShape(1, 224, 224, 3) || x.HasShape(224, 224, 3) || x.HasShape(1, 224, 224, 4) {
		t.Error("HasShape mismatch")
	}
	if x.Rank() != 4 || x.Dim(3) != 3 || x.Len() != 224*224*3 {
		t.Error("unexpected dimensions")
	}
	s := x.Shape()
	s[0] = 9
	if x.Dim(0) != 1 {
		t.Error("Shape() must return a copy")
	}
}
