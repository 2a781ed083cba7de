package service

import "errors"

var (
	// ErrNotStarted is returned by operations that need the worker pool.
	ErrNotStarted = errors.New("service not started")
	// ErrTimeout reports a job that did not finish within the inference timeout.
	ErrTimeout = errors.New("inference timed out")
)
