package models

import (
	"image"
	"testing"
)

func TestFrameRelease(t *testing.T) {
	f := NewFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)), IdentityPose)
	if f.ID == "" {
		t.Fatal("expected frame ID")
	}

	f.Retain()
	f.Release()
	if f.Released() {
		t.Fatal("frame released while still retained")
	}

	f.Release()
	if !f.Released() {
		t.Fatal("expected frame to be released")
	}
	if got := f.Bounds(); !got.Empty() {
		t.Errorf("Bounds after release: got %v, want empty", got)
	}
}

func TestBBox(t *testing.T) {
	tests := []struct {
		name   string
		box    BBox
		cx, cy float32
		valid  bool
	}{
		{"center box", CenterBox, 0.5, 0.5, true},
		{"top left", BBox{0, 0, 0.2, 0.4}, 0.1, 0.2, true},
		{"out of range", BBox{0.5, 0.5, 1.2, 0.1}, 1.1, 0.55, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			x, y := tc.box.Center()
			if diff := x - tc.cx; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("center x: got %v, want %v", x, tc.cx)
			}
			if diff := y - tc.cy; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("center y: got %v, want %v", y, tc.cy)
			}
			if tc.box.Valid() != tc.valid {
				t.Errorf("Valid: got %v, want %v", tc.box.Valid(), tc.valid)
			}
		})
	}
}
