package detections

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotLoaded is returned by Infer unless the engine is Ready.
	ErrModelNotLoaded = errors.New("detections: model not loaded")

	// ErrShapeMismatch is returned when a tensor does not match the model input.
	ErrShapeMismatch = errors.New("detections: tensor shape mismatch")

	// ErrBackendUnavailable is returned by backends not compiled into the binary.
	ErrBackendUnavailable = errors.New("detections: backend unavailable")

	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("detections: engine closed")

	// ErrPoolClosed is returned by Acquire after the pool is destroyed.
	ErrPoolClosed = errors.New("detections: execution context pool closed")
)

// ModelLoadError reports a failed model load. It disables local inference for
// the rest of the process.
type ModelLoadError struct {
	Path    string
	Backend string
	Cause   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("detections: load %s (%s): %v", e.Path, e.Backend, e.Cause)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Cause
}

// PreprocessError reports a frame that cannot be turned into a tensor.
type PreprocessError struct {
	Message string
	Cause   error
}

func (e *PreprocessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("detections: preprocess: %s: %v", e.Message, e.Cause)
	}
	return "detections: preprocess: " + e.Message
}

func (e *PreprocessError) Unwrap() error {
	return e.Cause
}

// InferenceError reports a failed forward pass. It is recoverable.
type InferenceError struct {
	Backend string
	Cause   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("detections: inference [%s]: %v", e.Backend, e.Cause)
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// DecodeAnomaly describes malformed model output. It is logged, never returned.
type DecodeAnomaly struct {
	Reason string
	Length int
	Want   int
}

func (a *DecodeAnomaly) Error() string {
	return fmt.Sprintf("detections: decode anomaly: %s (len=%d, want=%d)", a.Reason, a.Length, a.Want)
}
