package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Tutortoise/trash-spawn-service/camera"
	"github.com/Tutortoise/trash-spawn-service/config"
	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/detector"
	"github.com/sirupsen/logrus"
)

type checkResult struct {
	name   string
	ok     bool
	detail string
}

type verifier struct {
	out     io.Writer
	results []checkResult
}

func (v *verifier) record(name string, ok bool, format string, args ...interface{}) bool {
	r := checkResult{name: name, ok: ok, detail: fmt.Sprintf(format, args...)}
	v.results = append(v.results, r)
	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	fmt.Fprintf(v.out, "[%s] %-18s %s\n", status, r.name, r.detail)
	return ok
}

func (v *verifier) failed() bool {
	for _, r := range v.results {
		if !r.ok {
			return true
		}
	}
	return false
}

// runVerify checks the local pipeline end to end and returns the process
// exit code.
func runVerify(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, out io.Writer) int {
	v := &verifier{out: out}

	cpu := detections.DetectCPUFeatures()
	v.record("cpu", true, "%s, %d cores", cpu, cpu.NumCPU)

	mock := cfg.Backend == string(detections.BackendMock)
	modelOK := true
	if !mock {
		modelOK = checkFile(v, "model file", cfg.ModelPath)
	}

	if !mock && cfg.Runtime == "onnxruntime" {
		lib := detections.RuntimeLibraryPath(cfg.RuntimeLibPath)
		if filepath.Base(lib) == lib {
			v.record("runtime library", true, "%s (system loader)", lib)
		} else {
			checkFile(v, "runtime library", lib)
		}
	}

	labels, err := loadLabels(cfg)
	if !v.record("labels", err == nil, "%s", labelDetail(labels, err)) {
		return finish(v)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		v.record("engine", false, "%v", err)
		return finish(v)
	}
	if engine == nil {
		v.record("engine", true, "mock backend, no model")
	} else {
		defer releaseEngine(engine)
		if !modelOK {
			return finish(v)
		}
		start := time.Now()
		if err := engine.Load(ctx); err != nil {
			v.record("engine", false, "%v", err)
			return finish(v)
		}
		info := engine.Info()
		v.record("engine", true, "loaded in %v via %s, input %s %v, %d outputs",
			time.Since(start).Round(time.Millisecond), info.Provider, info.InputName, info.InputShape, info.OutputLength)
		if lib := detections.LoadedRuntimeLibrary(); lib != "" {
			v.record("runtime loaded", true, "%s", lib)
		}
	}

	service, err := buildService(cfg, engine, labels, logger)
	if err != nil {
		v.record("service", false, "%v", err)
		return finish(v)
	}

	frame, err := camera.NewSyntheticSource(640, 480, true, 1).Capture(ctx)
	if err != nil {
		v.record("inference", false, "%v", err)
		return finish(v)
	}
	defer frame.Release()

	result := service.DetectWith(ctx, frame, detector.StrategyLocal)
	switch {
	case result.Mock:
		v.record("inference", engine == nil, "mock result %s", result.Detections[0].Label)
	case result.Success:
		v.record("inference", true, "%d detections, top %s %.2f",
			len(result.Detections), result.Detections[0].Label, result.Detections[0].Confidence)
	case result.Error == detector.ErrNoDetections.Error():
		v.record("inference", true, "ran, nothing above threshold on a noise frame")
	default:
		v.record("inference", false, "%s", result.Error)
	}

	return finish(v)
}

func checkFile(v *verifier, name, path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return v.record(name, false, "%v", err)
	}
	return v.record(name, true, "%s (%d bytes)", path, st.Size())
}

func labelDetail(labels detections.Labels, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%d classes", len(labels))
}

func finish(v *verifier) int {
	if v.failed() {
		fmt.Fprintln(v.out, MsgVerifyFailed)
		return 1
	}
	fmt.Fprintln(v.out, MsgVerifyPassed)
	return 0
}
