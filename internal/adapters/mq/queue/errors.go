package queue

import "errors"

var (
	// ErrBackpressure is returned when the queue is full.
	ErrBackpressure = errors.New("inference queue full")
	// ErrClosed is returned after the queue has been closed.
	ErrClosed = errors.New("inference queue closed")
)
