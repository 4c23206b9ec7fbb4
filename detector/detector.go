// Package detector turns camera frames into detection results using the
// on-device model, a remote HTTP detector or canned mock output.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Strategy selects where detection runs.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	// StrategyMock is reported on results produced by the mock fallback.
	StrategyMock Strategy = "mock"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyLocal:
		return StrategyLocal, nil
	case StrategyRemote:
		return StrategyRemote, nil
	}
	return "", fmt.Errorf("detector: unknown strategy %q", s)
}

const (
	// DefaultMockLabel is the label of the canned mock detection.
	DefaultMockLabel = "plastic_bottle"
	mockConfidence   = 0.95
)

// MockBox is the bounding box of the canned mock detection.
var MockBox = models.BBox{0.2, 0.2, 0.15, 0.2}

// InferenceEngine is the part of detections.Engine the service needs.
type InferenceEngine interface {
	Ready() bool
	Infer(ctx context.Context, t detections.InputTensor) (detections.RawOutput, error)
}

// Detector is satisfied by Service and by test fakes.
type Detector interface {
	Detect(ctx context.Context, frame *models.Frame) models.DetectionResult
}

// Service produces one DetectionResult per frame. It never panics and never
// returns an error; every failure is reported inside the result.
type Service struct {
	engine       InferenceEngine
	preprocessor *detections.Preprocessor
	decoder      *detections.Decoder
	remote       *RemoteClient
	mockLabel    string
	logger       logrus.FieldLogger

	strategy atomic.Value
}

// Option configures a Service.
type Option func(*Service)

// WithEngine enables the local strategy.
func WithEngine(engine InferenceEngine, pre *detections.Preprocessor, dec *detections.Decoder) Option {
	return func(s *Service) {
		s.engine = engine
		s.preprocessor = pre
		s.decoder = dec
	}
}

// WithRemote enables the remote strategy.
func WithRemote(c *RemoteClient) Option {
	return func(s *Service) { s.remote = c }
}

func WithMockLabel(label string) Option {
	return func(s *Service) {
		if label != "" {
			s.mockLabel = label
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

func New(strategy Strategy, opts ...Option) *Service {
	s := &Service{mockLabel: DefaultMockLabel}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Component(s.logger, "detector")
	if s.preprocessor == nil {
		s.preprocessor = detections.NewPreprocessor(detections.DefaultInputWidth, detections.DefaultInputHeight, detections.LayoutNHWC)
	}
	if s.decoder == nil {
		s.decoder = detections.NewDecoder(detections.DefaultLabels, detections.DefaultThreshold, false, s.logger)
	}
	if strategy == "" {
		strategy = StrategyLocal
	}
	s.strategy.Store(strategy)
	return s
}

// SetStrategy switches strategy; calls already running keep theirs.
func (s *Service) SetStrategy(st Strategy) {
	s.strategy.Store(st)
}

func (s *Service) Strategy() Strategy {
	return s.strategy.Load().(Strategy)
}

// Detect runs the current strategy against frame.
func (s *Service) Detect(ctx context.Context, frame *models.Frame) models.DetectionResult {
	return s.DetectWith(ctx, frame, s.Strategy())
}

// DetectWith runs an explicit strategy against frame.
func (s *Service) DetectWith(ctx context.Context, frame *models.Frame, st Strategy) (result models.DetectionResult) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := s.logger.WithFields(logrus.Fields{"strategy": st, "request_id": requestID})

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("detection panicked")
			result = models.Failed(fmt.Sprintf("detector: internal error: %v", r))
			result.Strategy = string(st)
		}
	}()

	img := frame.Image()
	if img == nil {
		return s.failed(st, ErrFrameUnavailable)
	}

	switch st {
	case StrategyRemote:
		result = s.detectRemote(ctx, img, logger)
	default:
		result = s.detectLocal(ctx, img, logger)
	}

	if result.Timings != nil {
		result.Timings.RequestID = requestID
		result.Timings.Total = time.Since(start)
	}
	return result
}

func (s *Service) detectLocal(ctx context.Context, img image.Image, logger logrus.FieldLogger) models.DetectionResult {
	if s.engine == nil || !s.engine.Ready() {
		logger.WithField("mock", true).Warn("inference engine not ready, using mock detection")
		return MockResult(s.mockLabel)
	}

	timings := &models.ProcessingTimings{}

	prepStart := time.Now()
	tensor, err := s.preprocessor.Process(img)
	if err != nil {
		return s.failed(StrategyLocal, err)
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	raw, err := s.engine.Infer(ctx, tensor)
	if err != nil {
		if errors.Is(err, detections.ErrModelNotLoaded) {
			logger.WithField("mock", true).Warn("model not loaded, using mock detection")
			return MockResult(s.mockLabel)
		}
		logger.WithError(err).Debug("local inference failed")
		return s.failed(StrategyLocal, err)
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	dets := s.decoder.Decode(raw)
	timings.Postprocess = time.Since(postStart)

	result := s.fromDetections(StrategyLocal, dets)
	result.Timings = timings
	return result
}

func (s *Service) detectRemote(ctx context.Context, img image.Image, logger logrus.FieldLogger) models.DetectionResult {
	if s.remote == nil {
		return s.failed(StrategyRemote, ErrNoRemote)
	}

	timings := &models.ProcessingTimings{}
	inferStart := time.Now()
	dets, err := s.remote.Detect(ctx, img)
	timings.Inference = time.Since(inferStart)
	if err != nil {
		entry := logger.WithError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			entry = entry.WithFields(logrus.Fields{
				"status":    apiErr.StatusCode,
				"retryable": apiErr.IsServerError() || apiErr.IsRateLimited(),
			})
		}
		entry.Info("remote detection failed")
		return s.failed(StrategyRemote, err)
	}

	result := s.fromDetections(StrategyRemote, dets)
	result.Timings = timings
	return result
}

func (s *Service) fromDetections(st Strategy, dets []models.Detection) models.DetectionResult {
	if len(dets) == 0 {
		return s.failed(st, ErrNoDetections)
	}
	return models.DetectionResult{
		Detections: dets,
		Success:    true,
		Strategy:   string(st),
	}
}

func (s *Service) failed(st Strategy, err error) models.DetectionResult {
	r := models.Failed(err.Error())
	r.Strategy = string(st)
	return r
}

// MockResult is the canned detection used when no model is available.
func MockResult(label string) models.DetectionResult {
	if label == "" {
		label = DefaultMockLabel
	}
	return models.DetectionResult{
		Detections: []models.Detection{{
			Label:      label,
			Confidence: mockConfidence,
			BBox:       MockBox,
		}},
		Success:  true,
		Mock:     true,
		Strategy: string(StrategyMock),
	}
}
