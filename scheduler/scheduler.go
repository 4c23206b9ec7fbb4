// Package scheduler runs the periodic capture, detect and spawn cycle.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/trash-spawn-service/camera"
	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/events"
	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval          = 2 * time.Second
	DefaultTimeout           = 5 * time.Second
	DefaultMaxSpawnsPerCycle = 3
)

type Config struct {
	Interval          time.Duration
	Timeout           time.Duration
	MaxSpawnsPerCycle int
	Threshold         float32
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxSpawnsPerCycle <= 0 {
		c.MaxSpawnsPerCycle = DefaultMaxSpawnsPerCycle
	}
	if c.Threshold <= 0 {
		c.Threshold = detections.DefaultThreshold
	}
	return c
}

// Detector is the detection service as seen by the scheduler.
type Detector interface {
	Detect(ctx context.Context, frame *models.Frame) models.DetectionResult
}

// Planner turns a detection into a spawn decision.
type Planner interface {
	Plan(det models.Detection, pose models.Pose) models.SpawnDecision
}

// Gate limits live spawns. A nil gate admits everything.
type Gate interface {
	TryAdd(entityType string) bool
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Ticks        uint64        `json:"ticks"`
	Cycles       uint64        `json:"cycles"`
	Skipped      uint64        `json:"skipped"`
	NoFrame      uint64        `json:"no_frame"`
	Timeouts     uint64        `json:"timeouts"`
	Cancelled    uint64        `json:"cancelled"`
	Failures     uint64        `json:"failures"`
	Spawns       uint64        `json:"spawns"`
	Gated        uint64        `json:"gated"`
	LastDuration time.Duration `json:"last_duration_ns"`
	InFlight     bool          `json:"in_flight"`
}

type Scheduler struct {
	cfg      Config
	source   camera.Source
	detector Detector
	planner  Planner
	sink     events.Sink
	gate     Gate
	logger   logrus.FieldLogger

	inFlight atomic.Bool

	ticks, cycles, skipped, noFrame atomic.Uint64
	timeouts, failures, spawns      atomic.Uint64
	gated, cancelled                atomic.Uint64
	lastDuration                    atomic.Int64

	// work counts running cycles and detector calls.
	work sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, source camera.Source, det Detector, planner Planner, sink events.Sink, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		source:   source,
		detector: det,
		planner:  planner,
		sink:     sink,
		logger:   log.Component(logger, "scheduler"),
	}
}

// SetGate installs a population gate. Call before Start.
func (s *Scheduler) SetGate(g Gate) {
	s.gate = g
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run ticks every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":  s.cfg.Interval,
		"timeout":   s.cfg.Timeout,
		"max_spawn": s.cfg.MaxSpawnsPerCycle,
	}).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Start runs the loop in the background. A second Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop ends the loop and waits until no cycle or detector call is running,
// including a detector that outlived its deadline.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.Wait()
}

// Wait blocks until every started cycle and detector call has returned.
func (s *Scheduler) Wait() {
	s.work.Wait()
}

// Tick starts one cycle unless one is already in flight. It returns false
// when the tick was skipped. The cycle itself runs in the background.
func (s *Scheduler) Tick(ctx context.Context) bool {
	s.ticks.Add(1)
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("detection in flight, skipping tick")
		return false
	}
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		s.cycle(ctx)
	}()
	return true
}

// RunCycle runs one cycle synchronously, returning false when one was
// already in flight.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	s.ticks.Add(1)
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}
	s.work.Add(1)
	defer s.work.Done()
	s.cycle(ctx)
	return true
}

func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

func (s *Scheduler) cycle(ctx context.Context) {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := s.logger.WithField("cycle_id", cycleID)
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			logger.WithField("panic", r).Error("cycle panicked")
		}
		s.lastDuration.Store(int64(time.Since(start)))
		s.inFlight.Store(false)
	}()
	s.cycles.Add(1)

	frame, err := s.source.Capture(ctx)
	if err != nil || frame == nil {
		s.noFrame.Add(1)
		if err != nil && !errors.Is(err, camera.ErrNoFrame) {
			logger.WithError(err).Debug("capture failed")
		} else {
			logger.Debug("no frame available")
		}
		return
	}
	defer frame.Release()

	result, ok := s.detect(ctx, frame)
	if !ok {
		if ctx.Err() != nil {
			s.cancelled.Add(1)
			logger.Debug("cycle cancelled")
			return
		}
		s.timeouts.Add(1)
		logger.WithField("timeout", s.cfg.Timeout).Info("detection timed out")
		return
	}
	if !result.Success {
		s.failures.Add(1)
		logger.WithField("error", result.Error).Debug("detection failed")
		return
	}

	spawned := 0
	for _, det := range result.Detections {
		if spawned >= s.cfg.MaxSpawnsPerCycle {
			break
		}
		if det.Confidence < s.cfg.Threshold {
			continue
		}
		decision := s.planner.Plan(det, frame.Pose)
		decision.CycleID = cycleID
		if s.gate != nil && !s.gate.TryAdd(decision.EntityType) {
			s.gated.Add(1)
			logger.WithField("entity_type", decision.EntityType).Debug("population full")
			continue
		}
		if err := s.sink.Spawn(ctx, decision); err != nil {
			logger.WithError(err).Warn("spawn delivery failed")
		}
		spawned++
		s.spawns.Add(1)
	}

	logger.WithFields(logrus.Fields{
		"detections": len(result.Detections),
		"spawned":    spawned,
		"mock":       result.Mock,
		"elapsed":    time.Since(start),
	}).Debug("cycle complete")
}

// detect runs the detector under the cycle deadline. The detector goroutine
// holds its own frame reference so the caller may release on timeout.
func (s *Scheduler) detect(ctx context.Context, frame *models.Frame) (models.DetectionResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	results := make(chan models.DetectionResult, 1)
	frame.Retain()
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		defer frame.Release()
		defer func() {
			if r := recover(); r != nil {
				results <- models.Failed("detector panicked")
			}
		}()
		results <- s.detector.Detect(ctx, frame)
	}()

	select {
	case r := <-results:
		return r, true
	case <-ctx.Done():
		return models.DetectionResult{}, false
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:        s.ticks.Load(),
		Cycles:       s.cycles.Load(),
		Skipped:      s.skipped.Load(),
		NoFrame:      s.noFrame.Load(),
		Timeouts:     s.timeouts.Load(),
		Cancelled:    s.cancelled.Load(),
		Failures:     s.failures.Load(),
		Spawns:       s.spawns.Load(),
		Gated:        s.gated.Load(),
		LastDuration: time.Duration(s.lastDuration.Load()),
		InFlight:     s.inFlight.Load(),
	}
}
