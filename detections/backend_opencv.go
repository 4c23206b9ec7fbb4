//go:build gocv

package detections

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// OpenCVBackend runs ONNX models through the OpenCV DNN module.
type OpenCVBackend struct {
	Logger logrus.FieldLogger

	net   gocv.Net
	sizes []int
	info  ModelInfo
	ready bool
}

func NewOpenCVBackend(logger logrus.FieldLogger) *OpenCVBackend {
	return &OpenCVBackend{Logger: log.Component(logger, "opencv")}
}

func (b *OpenCVBackend) Name() string { return "opencv" }

func (b *OpenCVBackend) Load(ctx context.Context, spec ModelSpec) (ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return ModelInfo{}, err
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return ModelInfo{}, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(spec.Path)
	if net.Empty() {
		return ModelInfo{}, fmt.Errorf("failed to read network from %s", spec.Path)
	}

	shape := spec.InputShape()
	sizes := make([]int, len(shape))
	for i, d := range shape {
		sizes[i] = int(d)
	}
	b.net = net
	b.sizes = sizes
	b.ready = true

	// The DNN module does not expose output shapes before a forward pass, so
	// probe once with a zero tensor on the chosen target.
	zero := make([]float32, spec.Width*spec.Height*Channels)
	provider := "cpu"
	var probe []float32
	var err error
	if spec.Backend == BackendAccelerated {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
		provider = "cuda"
		probe, err = b.Run(ctx, zero)
		if err != nil {
			log.Or(b.Logger).WithError(err).
				Warn("CUDA target unavailable, falling back to CPU")
		}
	}
	if provider == "cpu" || err != nil {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		provider = "cpu"
		probe, err = b.Run(ctx, zero)
	}
	if err != nil {
		b.Close()
		return ModelInfo{}, fmt.Errorf("probe forward pass: %w", err)
	}

	b.info = ModelInfo{
		InputShape:   shape,
		OutputLength: len(probe),
		OutputType:   ElementFloat32,
		Provider:     provider,
	}
	return b.info, nil
}

func (b *OpenCVBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	if !b.ready {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrShapeMismatch)
	}

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&input[0])), len(input)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(b.sizes, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, fmt.Errorf("input blob: %w", err)
	}
	defer blob.Close()

	b.net.SetInput(blob, "")
	output := b.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (b *OpenCVBackend) Close() error {
	if !b.ready {
		return nil
	}
	b.ready = false
	return b.net.Close()
}
