package classifier

import (
	"context"

	"github.com/okian/herbid/internal/domain/tensor"
)

// Network is a loaded set of parameters plus a forward pass. Forward must be
// safe for concurrent use and must release every intermediate buffer it
// allocates before returning.
type Network interface {
	Forward(ctx context.Context, in *tensor.Tensor) ([]float32, error)
	Info() Info
	Release()
}

// Builder constructs a Network producing classes scores per input.
type Builder func(ctx context.Context, tr *tensor.Tracker, classes int) (Network, error)

// Info summarizes a loaded network.
type Info struct {
	Backend         string   `json:"backend"`
	InputShape      []int    `json:"input_shape"`
	OutputShape     []int    `json:"output_shape"`
	TrainableParams int      `json:"trainable_params"`
	Layers          int      `json:"layers"`
	LayerNames      []string `json:"layer_names,omitempty"`
}

func (i Info) clone() Info {
	i.InputShape = append([]int(nil), i.InputShape...)
	i.OutputShape = append([]int(nil), i.OutputShape...)
	i.LayerNames = append([]string(nil), i.LayerNames...)
	return i
}

// Classes returns the width of the output layer, or 0 if unknown.
func (i Info) Classes() int {
	if len(i.OutputShape) == 0 {
		return 0
	}
	return i.OutputShape[len(i.OutputShape)-1]
}

// Label maps a class index to a catalog identifier.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
