package onnx

import "errors"

var (
	// ErrModelPath reports a missing or unreadable model file.
	ErrModelPath = errors.New("onnx model path invalid")
	// ErrModel reports a model whose inputs or outputs do not fit the classifier.
	ErrModel = errors.New("onnx model incompatible")
	// ErrRuntime wraps ONNX Runtime environment failures.
	ErrRuntime = errors.New("onnx runtime unavailable")
)
