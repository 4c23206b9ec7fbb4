package main

import (
	"context"
	"testing"

	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/log"
)

func TestReleaseEngineClosesModelBeforeRuntime(t *testing.T) {
	backend := detections.NewMockBackend(make([]float32, len(detections.DefaultLabels)))
	engine := detections.NewEngine(backend, detections.ModelSpec{
		Path:    "waste.onnx",
		Backend: detections.BackendPortable,
		Width:   224,
		Height:  224,
		Layout:  detections.LayoutNHWC,
	}, detections.WithLogger(log.Discard()))
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	closedAtShutdown := -1
	orig := shutdownRuntime
	shutdownRuntime = func() error {
		closedAtShutdown = backend.CloseCalls()
		return nil
	}
	t.Cleanup(func() { shutdownRuntime = orig })

	if err := releaseEngine(engine); err != nil {
		t.Fatalf("release: %v", err)
	}
	if closedAtShutdown != 1 {
		t.Errorf("backend close calls when the runtime shut down: got %d, want 1", closedAtShutdown)
	}
	if n := backend.CloseCalls(); n != 1 {
		t.Errorf("backend closed %d times, want 1", n)
	}
}

func TestReleaseEngineWithoutEngine(t *testing.T) {
	called := false
	orig := shutdownRuntime
	shutdownRuntime = func() error {
		called = true
		return nil
	}
	t.Cleanup(func() { shutdownRuntime = orig })

	if err := releaseEngine(nil); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("runtime not shut down")
	}
}
