package detections

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/sirupsen/logrus"
)

func captureLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	return l, buf
}

func TestDecodeEmitsClassesAboveThreshold(t *testing.T) {
	l, _ := captureLogger()
	d := NewDecoder(DefaultLabels, 0.6, false, l)

	got := d.Decode(RawOutput{0.05, 0.02, 0.80, 0.03, 0.04, 0.03, 0.02, 0.01})
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1: %+v", len(got), got)
	}
	if got[0].Label != "can" {
		t.Errorf("label: got %q, want can", got[0].Label)
	}
	if got[0].Confidence != 0.80 {
		t.Errorf("confidence: got %v, want 0.80", got[0].Confidence)
	}
	if got[0].BBox != models.CenterBox {
		t.Errorf("bbox: got %v, want %v", got[0].BBox, models.CenterBox)
	}
}

func TestDecodeFourClassModel(t *testing.T) {
	l, _ := captureLogger()
	d := NewDecoder(Labels{"a", "b", "c", "d"}, 0.6, false, l)

	got := d.Decode(RawOutput{0.1, 0.7, 0.9, 0.2})
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2: %+v", len(got), got)
	}
	want := []models.Detection{
		{Label: "b", Confidence: 0.7, BBox: models.CenterBox},
		{Label: "c", Confidence: 0.9, BBox: models.CenterBox},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("detection %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeThreshold(t *testing.T) {
	tests := []struct {
		name      string
		raw       RawOutput
		wantLabel []string
	}{
		{"exactly at threshold", RawOutput{0.6, 0, 0, 0, 0, 0, 0, 0}, []string{"plastic_bottle"}},
		{"just below threshold", RawOutput{0.5999, 0, 0, 0, 0, 0, 0, 0}, nil},
		{"all zero", RawOutput{0, 0, 0, 0, 0, 0, 0, 0}, nil},
		{"multiple in index order", RawOutput{0, 0, 0, 0, 0, 0.7, 0.9, 0.65}, []string{"cardboard", "glass", "organic"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := captureLogger()
			got := NewDecoder(DefaultLabels, 0.6, false, l).Decode(tc.raw)
			if len(got) != len(tc.wantLabel) {
				t.Fatalf("got %d detections, want %d", len(got), len(tc.wantLabel))
			}
			for i, det := range got {
				if det.Label != tc.wantLabel[i] {
					t.Errorf("detection %d: got %q, want %q", i, det.Label, tc.wantLabel[i])
				}
				if det.Confidence < 0.6 {
					t.Errorf("detection %d below threshold: %v", i, det.Confidence)
				}
			}
		})
	}
}

func TestDecodeAnomalies(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name    string
		raw     RawOutput
		wantLog string
	}{
		{"short output", RawOutput{0.9, 0.1}, "output length"},
		{"empty output", RawOutput{}, "output length"},
		{"nan", RawOutput{nan, 0, 0, 0, 0, 0, 0, 0.9}, "non-finite"},
		{"inf", RawOutput{0, inf, 0, 0, 0, 0, 0, 0}, "non-finite"},
		{"out of range", RawOutput{1.7, 0, 0, 0, 0, 0, 0, 0}, "outside [0,1]"},
		{"negative", RawOutput{-0.2, 0.9, 0, 0, 0, 0, 0, 0}, "outside [0,1]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, buf := captureLogger()
			got := NewDecoder(DefaultLabels, 0.6, false, l).Decode(tc.raw)
			if got == nil || len(got) != 0 {
				t.Fatalf("got %+v, want empty non-nil slice", got)
			}
			if !strings.Contains(buf.String(), tc.wantLog) {
				t.Errorf("log %q does not mention %q", buf.String(), tc.wantLog)
			}
			if !strings.Contains(buf.String(), "level=warning") {
				t.Errorf("anomaly not logged at warning level: %q", buf.String())
			}
		})
	}
}

func TestDecodeSoftmax(t *testing.T) {
	l, buf := captureLogger()
	d := NewDecoder(DefaultLabels, 0.6, true, l)

	got := d.Decode(RawOutput{0, 0, 0, 0, 0, 0, 0, 8})
	if len(got) != 1 || got[0].Label != "organic" {
		t.Fatalf("got %+v, want one organic detection", got)
	}
	if got[0].Confidence <= 0.6 || got[0].Confidence > 1 {
		t.Errorf("confidence: got %v", got[0].Confidence)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %q", buf.String())
	}
}

func TestLabelOutOfRange(t *testing.T) {
	if got := DefaultLabels.Label(8); got != UnknownLabel {
		t.Errorf("Label(8): got %q, want %q", got, UnknownLabel)
	}
	if got := DefaultLabels.Label(-1); got != UnknownLabel {
		t.Errorf("Label(-1): got %q, want %q", got, UnknownLabel)
	}
	if got := DefaultLabels.Label(2); got != "can" {
		t.Errorf("Label(2): got %q, want can", got)
	}
}
