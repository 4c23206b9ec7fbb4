package detections

import (
	"context"
	"fmt"
	"strings"
)

// Backend selects the hardware path for inference.
type Backend string

const (
	// BackendAccelerated prefers a GPU or NPU execution provider and falls back to CPU.
	BackendAccelerated Backend = "accelerated"
	// BackendPortable runs on CPU only.
	BackendPortable Backend = "portable"
	// BackendMock runs no model at all.
	BackendMock Backend = "mock"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(s)) {
	case BackendAccelerated, "":
		return BackendAccelerated, nil
	case BackendPortable:
		return BackendPortable, nil
	case BackendMock:
		return BackendMock, nil
	}
	return "", fmt.Errorf("detections: unknown backend %q", s)
}

// ElementType is the numeric type of a model output.
type ElementType string

const (
	ElementFloat32 ElementType = "float32"
	ElementFloat16 ElementType = "float16"
)

// ModelSpec describes the model to load.
type ModelSpec struct {
	Path    string
	Backend Backend
	Width   int
	Height  int
	Layout  Layout
	Threads int
}

// InputShape is the tensor shape the preprocessor produces for this model.
func (s ModelSpec) InputShape() []int64 {
	return s.Layout.Shape(s.Width, s.Height)
}

// ModelInfo is what a backend reports after a successful load.
type ModelInfo struct {
	InputName    string
	OutputNames  []string
	InputShape   []int64
	OutputLength int
	OutputType   ElementType
	// Provider names the execution provider that ended up running the model.
	Provider string
}

// InferenceBackend runs a loaded model. Implementations need not be safe for
// concurrent Run calls; the Engine serializes them.
type InferenceBackend interface {
	Name() string
	Load(ctx context.Context, spec ModelSpec) (ModelInfo, error)
	Run(ctx context.Context, input []float32) ([]float32, error)
	Close() error
}
