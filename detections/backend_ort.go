package detections

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ORTBackend runs ONNX models through onnxruntime.
type ORTBackend struct {
	// LibPath overrides the shared library location; empty uses RuntimeLibraryPath.
	LibPath string
	Logger  logrus.FieldLogger

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  ort.ArbitraryTensor
	outF32  *ort.Tensor[float32]
	outF16  *ort.CustomDataTensor
	info    ModelInfo
}

func NewORTBackend(libPath string, logger logrus.FieldLogger) *ORTBackend {
	return &ORTBackend{LibPath: libPath, Logger: log.Component(logger, "ort")}
}

func (b *ORTBackend) Name() string { return "onnxruntime" }

func (b *ORTBackend) Load(ctx context.Context, spec ModelSpec) (ModelInfo, error) {
	if err := ctx.Err(); err != nil {
		return ModelInfo{}, err
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return ModelInfo{}, fmt.Errorf("model file: %w", err)
	}
	if err := InitRuntime(b.LibPath); err != nil {
		return ModelInfo{}, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(spec.Path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("read model io: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return ModelInfo{}, errors.New("model declares no inputs or outputs")
	}

	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat {
		return ModelInfo{}, fmt.Errorf("unsupported input type %v", in.DataType)
	}
	shape := spec.InputShape()
	if !shapeMatches(shape, []int64(in.Dimensions)) {
		return ModelInfo{}, fmt.Errorf("%w: model input %v, configured %v", ErrShapeMismatch, in.Dimensions, shape)
	}

	outShape := make([]int64, len(out.Dimensions))
	for i, d := range out.Dimensions {
		switch {
		case d > 0:
			outShape[i] = d
		case i == 0:
			outShape[i] = 1
		default:
			return ModelInfo{}, fmt.Errorf("dynamic output dimension %d in %v", i, out.Dimensions)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
	if err != nil {
		return ModelInfo{}, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(outShape...)
	info := ModelInfo{
		InputName:    in.Name,
		OutputNames:  []string{out.Name},
		InputShape:   shape,
		OutputLength: int(outputShape.FlattenedSize()),
	}

	switch out.DataType {
	case ort.TensorElementDataTypeFloat:
		b.outF32, err = ort.NewEmptyTensor[float32](outputShape)
		b.output = b.outF32
		info.OutputType = ElementFloat32
	case ort.TensorElementDataTypeFloat16:
		b.outF16, err = ort.NewCustomDataTensor(outputShape, make([]byte, info.OutputLength*2), ort.TensorElementDataTypeFloat16)
		b.output = b.outF16
		info.OutputType = ElementFloat16
	default:
		err = fmt.Errorf("unsupported output type %v", out.DataType)
	}
	if err != nil {
		input.Destroy()
		return ModelInfo{}, fmt.Errorf("create output tensor: %w", err)
	}
	b.input = input

	session, provider, err := b.newSession(spec, in.Name, out.Name)
	if err != nil {
		b.destroyTensors()
		return ModelInfo{}, err
	}
	b.session = session
	info.Provider = provider
	b.info = info
	return info, nil
}

// newSession tries the accelerated provider first when asked to and retries
// on plain CPU if that provider cannot be set up.
func (b *ORTBackend) newSession(spec ModelSpec, inName, outName string) (*ort.AdvancedSession, string, error) {
	if spec.Backend == BackendAccelerated {
		provider, opts, err := b.acceleratedOptions(spec)
		if err == nil {
			session, serr := b.createSession(spec.Path, inName, outName, opts)
			opts.Destroy()
			if serr == nil {
				return session, provider, nil
			}
			err = serr
		}
		log.Or(b.Logger).WithField("provider", provider).WithError(err).Warn("accelerated execution provider unavailable, falling back to CPU")
	}

	opts, err := b.baseOptions(spec)
	if err != nil {
		return nil, "", err
	}
	defer opts.Destroy()
	session, err := b.createSession(spec.Path, inName, outName, opts)
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return session, "cpu", nil
}

func (b *ORTBackend) createSession(path, inName, outName string, opts *ort.SessionOptions) (*ort.AdvancedSession, error) {
	return ort.NewAdvancedSession(
		path,
		[]string{inName},
		[]string{outName},
		[]ort.ArbitraryTensor{b.input},
		[]ort.ArbitraryTensor{b.output},
		opts,
	)
}

func (b *ORTBackend) baseOptions(spec ModelSpec) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	if spec.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(spec.Threads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("intra-op threads: %w", err)
		}
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("inter-op threads: %w", err)
	}
	return opts, nil
}

func (b *ORTBackend) acceleratedOptions(spec ModelSpec) (string, *ort.SessionOptions, error) {
	opts, err := b.baseOptions(spec)
	if err != nil {
		return "", nil, err
	}

	if runtime.GOOS == "darwin" {
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			opts.Destroy()
			return "coreml", nil, err
		}
		return "coreml", opts, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return "cuda", nil, err
	}
	defer cuda.Destroy()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return "cuda", nil, err
	}
	return "cuda", opts, nil
}

func (b *ORTBackend) Run(ctx context.Context, input []float32) ([]float32, error) {
	if b.session == nil {
		return nil, ErrModelNotLoaded
	}
	dst := b.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrShapeMismatch, len(input), len(dst))
	}
	copy(dst, input)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.session.Run(); err != nil {
		return nil, err
	}

	if b.outF16 != nil {
		return Float16ToFloat32(b.outF16.GetData()), nil
	}
	out := make([]float32, b.info.OutputLength)
	copy(out, b.outF32.GetData())
	return out, nil
}

func (b *ORTBackend) Close() error {
	var err error
	if b.session != nil {
		err = b.session.Destroy()
		b.session = nil
	}
	b.destroyTensors()
	return err
}

func (b *ORTBackend) destroyTensors() {
	if b.input != nil {
		b.input.Destroy()
		b.input = nil
	}
	if b.outF32 != nil {
		b.outF32.Destroy()
		b.outF32 = nil
	}
	if b.outF16 != nil {
		b.outF16.Destroy()
		b.outF16 = nil
	}
	b.output = nil
}
