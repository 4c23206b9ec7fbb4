package detections

import (
	"context"
	"sync"
)

// MockBackend is an InferenceBackend for tests and for INFERENCE_BACKEND=mock.
// Hooks left nil fall back to fixed behavior: Load reports a model with the
// ModelSpec input shape and the length of Output, Run returns a copy of Output.
type MockBackend struct {
	LoadFunc  func(ctx context.Context, spec ModelSpec) (ModelInfo, error)
	RunFunc   func(ctx context.Context, input []float32) ([]float32, error)
	CloseFunc func() error

	// Output is returned by Run when RunFunc is nil.
	Output []float32

	mu         sync.Mutex
	loadCalls  int
	runCalls   int
	closeCalls int
}

func NewMockBackend(output []float32) *MockBackend {
	return &MockBackend{Output: output}
}

func (m *MockBackend) Name() string { return "mock" }

func (m *MockBackend) Load(ctx context.Context, spec ModelSpec) (ModelInfo, error) {
	m.mu.Lock()
	m.loadCalls++
	m.mu.Unlock()

	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, spec)
	}
	return ModelInfo{
		InputName:    "input",
		OutputNames:  []string{"output"},
		InputShape:   spec.InputShape(),
		OutputLength: len(m.Output),
		OutputType:   ElementFloat32,
		Provider:     "mock",
	}, nil
}

func (m *MockBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	m.mu.Lock()
	m.runCalls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, input)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, len(m.Output))
	copy(out, m.Output)
	return out, nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	m.closeCalls++
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockBackend) LoadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCalls
}

func (m *MockBackend) RunCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalls
}

func (m *MockBackend) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
