package classifier

import "errors"

var (
	// ErrNotLoaded is returned by Predict before a successful Load or after Dispose.
	ErrNotLoaded = errors.New("model not loaded")
	// ErrLoad wraps any failure to construct the network.
	ErrLoad = errors.New("model load failed")
	// ErrShape reports an input tensor of the wrong shape.
	ErrShape = errors.New("unexpected tensor shape")
)
