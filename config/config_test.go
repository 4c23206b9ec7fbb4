package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.InputWidth != 224 || cfg.InputHeight != 224 {
		t.Errorf("input size: got %dx%d, want 224x224", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.Threshold != 0.6 {
		t.Errorf("Threshold: got %v, want 0.6", cfg.Threshold)
	}
	if cfg.DetectionInterval != 2*time.Second {
		t.Errorf("DetectionInterval: got %v, want 2s", cfg.DetectionInterval)
	}
	if cfg.DetectionTimeout != 5*time.Second {
		t.Errorf("DetectionTimeout: got %v, want 5s", cfg.DetectionTimeout)
	}
	if cfg.MaxSpawnsPerCycle != 3 {
		t.Errorf("MaxSpawnsPerCycle: got %d, want 3", cfg.MaxSpawnsPerCycle)
	}
	if cfg.SpawnDistance != 5 {
		t.Errorf("SpawnDistance: got %v, want 5", cfg.SpawnDistance)
	}
	if cfg.Strategy != "local" {
		t.Errorf("Strategy: got %q, want local", cfg.Strategy)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("DETECTION_INTERVAL", "500ms")
	t.Setenv("DETECTION_TIMEOUT", "3")
	t.Setenv("INFERENCE_BACKEND", "Portable")
	t.Setenv("DETECTION_STRATEGY", "remote")
	t.Setenv("REMOTE_URL", "http://detector.local/detect")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Threshold != 0.75 {
		t.Errorf("Threshold: got %v", cfg.Threshold)
	}
	if cfg.DetectionInterval != 500*time.Millisecond {
		t.Errorf("DetectionInterval: got %v", cfg.DetectionInterval)
	}
	if cfg.DetectionTimeout != 3*time.Second {
		t.Errorf("DetectionTimeout: got %v", cfg.DetectionTimeout)
	}
	if cfg.Backend != "portable" {
		t.Errorf("Backend: got %q", cfg.Backend)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MAX_SPAWNS_PER_CYCLE=7\nMOCK_LABEL=can\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("MAX_SPAWNS_PER_CYCLE")
		os.Unsetenv("MOCK_LABEL")
	})

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxSpawnsPerCycle != 7 {
		t.Errorf("MaxSpawnsPerCycle: got %d, want 7", cfg.MaxSpawnsPerCycle)
	}
	if cfg.MockLabel != "can" {
		t.Errorf("MockLabel: got %q, want can", cfg.MockLabel)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "threshold above one",
			env:     map[string]string{"CONFIDENCE_THRESHOLD": "1.5"},
			wantErr: "Threshold",
		},
		{
			name:    "zero threshold",
			env:     map[string]string{"CONFIDENCE_THRESHOLD": "0"},
			wantErr: "Threshold",
		},
		{
			name:    "zero spawns per cycle",
			env:     map[string]string{"MAX_SPAWNS_PER_CYCLE": "0"},
			wantErr: "MaxSpawnsPerCycle",
		},
		{
			name:    "remote without url",
			env:     map[string]string{"DETECTION_STRATEGY": "remote"},
			wantErr: "RemoteURL",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"INFERENCE_BACKEND": "tpu"},
			wantErr: "Backend",
		},
		{
			name:    "unparseable int",
			env:     map[string]string{"INPUT_WIDTH": "wide"},
			wantErr: "INPUT_WIDTH",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"DETECTION_TIMEOUT": "soon"},
			wantErr: "DETECTION_TIMEOUT",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
