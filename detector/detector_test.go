package detector

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/sirupsen/logrus"
)

type fakeEngine struct {
	ready bool
	out   detections.RawOutput
	err   error
	calls int
}

func (f *fakeEngine) Ready() bool { return f.ready }

func (f *fakeEngine) Infer(ctx context.Context, t detections.InputTensor) (detections.RawOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func testFrame() *models.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return models.NewFrame(img, models.IdentityPose)
}

func localService(engine InferenceEngine, logger logrus.FieldLogger) *Service {
	pre := detections.NewPreprocessor(224, 224, detections.LayoutNHWC)
	dec := detections.NewDecoder(detections.DefaultLabels, 0.6, false, logger)
	return New(StrategyLocal, WithEngine(engine, pre, dec), WithLogger(logger))
}

func TestDetectLocalReturnsDecodedClass(t *testing.T) {
	engine := &fakeEngine{ready: true, out: detections.RawOutput{0.05, 0.02, 0.80, 0.03, 0.04, 0.03, 0.02, 0.01}}
	svc := localService(engine, log.Discard())

	res := svc.Detect(context.Background(), testFrame())
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if len(res.Detections) != 1 || res.Detections[0].Label != "can" || res.Detections[0].Confidence != 0.80 {
		t.Fatalf("detections: %+v", res.Detections)
	}
	if res.Mock {
		t.Error("result flagged as mock")
	}
	if res.Timings == nil || res.Timings.RequestID == "" {
		t.Error("timings not recorded")
	}
}

func TestDetectFallsBackToMockWithoutModel(t *testing.T) {
	tests := []struct {
		name   string
		engine InferenceEngine
	}{
		{"no engine", nil},
		{"engine not ready", &fakeEngine{ready: false}},
		{"model not loaded", &fakeEngine{ready: true, err: detections.ErrModelNotLoaded}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logrus.New()
			logger.SetOutput(buf)

			svc := localService(tc.engine, logger)
			res := svc.Detect(context.Background(), testFrame())

			if !res.Success || !res.Mock {
				t.Fatalf("want mock success, got %+v", res)
			}
			if len(res.Detections) != 1 {
				t.Fatalf("want 1 detection, got %d", len(res.Detections))
			}
			d := res.Detections[0]
			if d.Label != DefaultMockLabel || d.Confidence != 0.95 || d.BBox != MockBox {
				t.Errorf("mock detection: %+v", d)
			}
			if !strings.Contains(buf.String(), "mock=true") {
				t.Errorf("mock not logged: %q", buf.String())
			}
		})
	}
}

func TestDetectLocalFailures(t *testing.T) {
	tests := []struct {
		name    string
		engine  *fakeEngine
		wantErr string
	}{
		{
			name:    "below threshold",
			engine:  &fakeEngine{ready: true, out: detections.RawOutput{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.2, 0.2}},
			wantErr: "no detections",
		},
		{
			name:    "malformed output",
			engine:  &fakeEngine{ready: true, out: detections.RawOutput{0.9}},
			wantErr: "no detections",
		},
		{
			name:    "backend fault",
			engine:  &fakeEngine{ready: true, err: &detections.InferenceError{Backend: "mock", Cause: errors.New("device lost")}},
			wantErr: "device lost",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := localService(tc.engine, log.Discard())
			res := svc.Detect(context.Background(), testFrame())
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.Detections == nil || len(res.Detections) != 0 {
				t.Errorf("detections: %+v", res.Detections)
			}
			if !strings.Contains(res.Error, tc.wantErr) {
				t.Errorf("error %q does not contain %q", res.Error, tc.wantErr)
			}
		})
	}
}

func TestDetectReleasedFrame(t *testing.T) {
	engine := &fakeEngine{ready: true}
	svc := localService(engine, log.Discard())

	frame := testFrame()
	frame.Release()

	res := svc.Detect(context.Background(), frame)
	if res.Success {
		t.Fatal("expected failure for released frame")
	}
	if engine.calls != 0 {
		t.Errorf("engine called %d times", engine.calls)
	}
	if res := svc.Detect(context.Background(), nil); res.Success {
		t.Error("expected failure for nil frame")
	}
}

type panicEngine struct{}

func (panicEngine) Ready() bool { return true }

func (panicEngine) Infer(ctx context.Context, t detections.InputTensor) (detections.RawOutput, error) {
	panic("boom")
}

func TestDetectRecoversPanics(t *testing.T) {
	svc := localService(panicEngine{}, log.Discard())
	res := svc.Detect(context.Background(), testFrame())
	if res.Success || !strings.Contains(res.Error, "boom") {
		t.Errorf("got %+v", res)
	}
}

func TestStrategySwitch(t *testing.T) {
	svc := New(StrategyLocal, WithLogger(log.Discard()))
	if svc.Strategy() != StrategyLocal {
		t.Fatalf("initial strategy: %q", svc.Strategy())
	}

	svc.SetStrategy(StrategyRemote)
	if svc.Strategy() != StrategyRemote {
		t.Fatalf("strategy after switch: %q", svc.Strategy())
	}

	res := svc.Detect(context.Background(), testFrame())
	if res.Success || res.Error != ErrNoRemote.Error() {
		t.Errorf("remote without client: %+v", res)
	}

	// Forcing local ignores the configured strategy.
	res = svc.DetectWith(context.Background(), testFrame(), StrategyLocal)
	if !res.Mock {
		t.Errorf("forced local without engine should fall back to mock: %+v", res)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"local", StrategyLocal, false},
		{" Remote ", StrategyRemote, false},
		{"mock", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseStrategy(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseStrategy(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestMockResultLabel(t *testing.T) {
	res := MockResult("can")
	if res.Detections[0].Label != "can" {
		t.Errorf("label: %q", res.Detections[0].Label)
	}
	if res.Strategy != string(StrategyMock) {
		t.Errorf("strategy: %q", res.Strategy)
	}
}

