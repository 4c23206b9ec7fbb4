package detections

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultAcquireTimeout bounds how long Infer waits for an execution context.
	DefaultAcquireTimeout = 5 * time.Second
	maxRecordedErrors     = 10
)

// ContextPool leases loaded backends (execution contexts) to callers. The
// engine keeps a single slot so Run calls are never concurrent.
type ContextPool struct {
	slots          chan InferenceBackend
	size           int
	acquireTimeout time.Duration

	mu         sync.Mutex
	closed     bool
	metrics    PoolMetrics
	lastErrors []error
}

// PoolMetrics is a snapshot of pool usage.
type PoolMetrics struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	RecentErrors    []string      `json:"recent_errors,omitempty"`
}

func NewContextPool(acquireTimeout time.Duration, backends ...InferenceBackend) *ContextPool {
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	p := &ContextPool{
		slots:          make(chan InferenceBackend, len(backends)),
		size:           len(backends),
		acquireTimeout: acquireTimeout,
	}
	for _, b := range backends {
		p.slots <- b
	}
	p.metrics.Size = len(backends)
	return p
}

// Acquire waits for a free execution context, the acquire timeout, or ctx.
func (p *ContextPool) Acquire(ctx context.Context) (InferenceBackend, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.mu.Lock()
		p.metrics.WaitTime += time.Since(start)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case b, ok := <-p.slots:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.mu.Unlock()
		return b, nil
	case <-timer.C:
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return nil, fmt.Errorf("detections: timeout waiting for execution context")
	case <-ctx.Done():
		p.mu.Lock()
		p.metrics.AcquireFailures++
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release returns a context to the pool. After Destroy it closes the backend.
func (p *ContextPool) Release(b InferenceBackend) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		b.Close()
		return
	}
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.slots <- b
}

// RecordError keeps the last few inference errors for the metrics endpoint.
func (p *ContextPool) RecordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

// Destroy closes every idle backend. Leased backends are closed on Release.
func (p *ContextPool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.slots)

	var firstErr error
	for b := range p.slots {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *ContextPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	for _, err := range p.lastErrors {
		m.RecentErrors = append(m.RecentErrors, err.Error())
	}
	return m
}
