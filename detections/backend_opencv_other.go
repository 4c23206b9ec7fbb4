//go:build !gocv

package detections

import (
	"context"

	"github.com/sirupsen/logrus"
)

// OpenCVBackend is unavailable unless the binary is built with -tags gocv.
type OpenCVBackend struct {
	Logger logrus.FieldLogger
}

func NewOpenCVBackend(logger logrus.FieldLogger) *OpenCVBackend {
	return &OpenCVBackend{Logger: logger}
}

func (b *OpenCVBackend) Name() string { return "opencv" }

func (b *OpenCVBackend) Load(ctx context.Context, spec ModelSpec) (ModelInfo, error) {
	return ModelInfo{}, ErrBackendUnavailable
}

func (b *OpenCVBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	return nil, ErrBackendUnavailable
}

func (b *OpenCVBackend) Close() error { return nil }
