package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle of an Engine.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Engine owns one loaded model and serializes inference on it.
type Engine struct {
	backend InferenceBackend
	spec    ModelSpec
	logger  logrus.FieldLogger

	mu      sync.Mutex
	state   State
	loading chan struct{}
	loadErr error
	info    ModelInfo
	pool    *ContextPool
	loadDur time.Duration
	closed  bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

func NewEngine(backend InferenceBackend, spec ModelSpec, opts ...EngineOption) *Engine {
	if spec.Width <= 0 {
		spec.Width = DefaultInputWidth
	}
	if spec.Height <= 0 {
		spec.Height = DefaultInputHeight
	}
	if spec.Layout == "" {
		spec.Layout = LayoutNHWC
	}
	e := &Engine{
		backend: backend,
		spec:    spec,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.Component(e.logger, "engine")
	return e
}

// Load loads the model once. Concurrent callers wait for the same attempt
// and every later call returns its cached outcome.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateReady:
		e.mu.Unlock()
		return nil
	case StateFailed:
		err := e.loadErr
		e.mu.Unlock()
		return err
	case StateLoading:
		wait := e.loading
		e.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.loadErr
	}
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.state = StateLoading
	e.loading = make(chan struct{})
	done := e.loading
	e.mu.Unlock()

	start := time.Now()
	info, err := e.backend.Load(ctx, e.spec)
	elapsed := time.Since(start)

	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		close(done)
	}()
	e.loadDur = elapsed
	if err != nil {
		e.state = StateFailed
		e.loadErr = &ModelLoadError{Path: e.spec.Path, Backend: e.backend.Name(), Cause: err}
		return e.loadErr
	}
	if e.closed {
		e.backend.Close()
		e.state = StateFailed
		e.loadErr = ErrEngineClosed
		return e.loadErr
	}
	if len(info.InputShape) == 0 {
		info.InputShape = e.spec.InputShape()
	}
	e.info = info
	e.pool = NewContextPool(DefaultAcquireTimeout, e.backend)
	e.state = StateReady

	e.logger.WithFields(logrus.Fields{
		"model":    e.spec.Path,
		"backend":  e.backend.Name(),
		"provider": info.Provider,
		"input":    info.InputShape,
		"outputs":  info.OutputLength,
		"dtype":    info.OutputType,
		"duration": elapsed,
	}).Info("model loaded")
	return nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Ready() bool {
	return e.State() == StateReady
}

// Info returns the loaded model description; zero before Ready.
func (e *Engine) Info() ModelInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// LoadError returns the cached load failure, if any.
func (e *Engine) LoadError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// LoadDuration is how long the last load attempt took.
func (e *Engine) LoadDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadDur
}

func (e *Engine) Spec() ModelSpec {
	return e.spec
}

// Infer runs one forward pass. It fails fast with ErrModelNotLoaded unless
// the engine is Ready.
func (e *Engine) Infer(ctx context.Context, t InputTensor) (RawOutput, error) {
	e.mu.Lock()
	if e.state != StateReady || e.closed {
		e.mu.Unlock()
		return nil, ErrModelNotLoaded
	}
	info, pool := e.info, e.pool
	e.mu.Unlock()

	if !shapeMatches(t.Shape, info.InputShape) || len(t.Data) != t.Len() {
		return nil, &InferenceError{
			Backend: e.backend.Name(),
			Cause:   fmt.Errorf("%w: got %v (%d values), want %v", ErrShapeMismatch, t.Shape, len(t.Data), info.InputShape),
		}
	}

	backend, err := pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrPoolClosed) {
			return nil, ErrModelNotLoaded
		}
		return nil, &InferenceError{Backend: e.backend.Name(), Cause: err}
	}
	defer pool.Release(backend)

	out, err := backend.Run(ctx, t.Data)
	if err != nil {
		pool.RecordError(err)
		return nil, &InferenceError{Backend: backend.Name(), Cause: err}
	}
	return RawOutput(out), nil
}

// PoolMetrics reports execution context usage; zero before Ready.
func (e *Engine) PoolMetrics() PoolMetrics {
	e.mu.Lock()
	pool := e.pool
	e.mu.Unlock()
	if pool == nil {
		return PoolMetrics{}
	}
	return pool.Metrics()
}

// Close releases the model. A leased execution context is closed when its
// caller releases it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pool := e.pool
	state := e.state
	e.mu.Unlock()

	if pool != nil {
		return pool.Destroy()
	}
	if state != StateReady {
		return nil
	}
	return e.backend.Close()
}
