package detections

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocessShapeAndRange(t *testing.T) {
	tests := []struct {
		name      string
		src       image.Image
		w, h      int
		layout    Layout
		wantShape []int64
	}{
		{"square nhwc", solid(640, 480, color.NRGBA{200, 100, 50, 255}), 224, 224, LayoutNHWC, []int64{1, 224, 224, 3}},
		{"non-square nhwc", solid(100, 100, color.NRGBA{1, 2, 3, 255}), 320, 240, LayoutNHWC, []int64{1, 240, 320, 3}},
		{"nchw", solid(64, 48, color.NRGBA{255, 255, 255, 255}), 32, 16, LayoutNCHW, []int64{1, 3, 16, 32}},
		{"upscale", solid(2, 2, color.NRGBA{0, 0, 0, 255}), 8, 8, LayoutNHWC, []int64{1, 8, 8, 3}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tensor, err := Preprocess(tc.src, tc.w, tc.h, tc.layout)
			if err != nil {
				t.Fatalf("Preprocess: %v", err)
			}
			if len(tensor.Shape) != len(tc.wantShape) {
				t.Fatalf("shape: got %v, want %v", tensor.Shape, tc.wantShape)
			}
			for i := range tc.wantShape {
				if tensor.Shape[i] != tc.wantShape[i] {
					t.Fatalf("shape: got %v, want %v", tensor.Shape, tc.wantShape)
				}
			}
			if len(tensor.Data) != tc.w*tc.h*3 {
				t.Fatalf("len: got %d, want %d", len(tensor.Data), tc.w*tc.h*3)
			}
			for i, v := range tensor.Data {
				if v < 0 || v > 1 {
					t.Fatalf("value %d out of range: %v", i, v)
				}
			}
		})
	}
}

func TestPreprocessChannelOrder(t *testing.T) {
	src := solid(10, 10, color.NRGBA{255, 0, 51, 255})
	want := []float32{1, 0, 0.2}

	nhwc, err := Preprocess(src, 4, 4, LayoutNHWC)
	if err != nil {
		t.Fatal(err)
	}
	for px := 0; px < 16; px++ {
		for c := 0; c < 3; c++ {
			if got := nhwc.Data[px*3+c]; math.Abs(float64(got-want[c])) > 5e-3 {
				t.Fatalf("nhwc pixel %d channel %d: got %v, want %v", px, c, got, want[c])
			}
		}
	}

	nchw, err := Preprocess(src, 4, 4, LayoutNCHW)
	if err != nil {
		t.Fatal(err)
	}
	for c := 0; c < 3; c++ {
		for px := 0; px < 16; px++ {
			if got := nchw.Data[c*16+px]; math.Abs(float64(got-want[c])) > 5e-3 {
				t.Fatalf("nchw channel %d pixel %d: got %v, want %v", c, px, got, want[c])
			}
		}
	}
}

func TestPreprocessDoesNotMutateSource(t *testing.T) {
	src := solid(16, 16, color.NRGBA{10, 20, 30, 255})
	before := append([]uint8(nil), src.Pix...)

	if _, err := Preprocess(src, 8, 8, LayoutNHWC); err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if src.Pix[i] != before[i] {
			t.Fatalf("source pixel byte %d changed", i)
		}
	}
}

func TestPreprocessSubImageOffset(t *testing.T) {
	base := solid(20, 20, color.NRGBA{0, 0, 0, 255})
	for y := 10; y < 20; y++ {
		for x := 10; x < 20; x++ {
			base.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	sub := base.SubImage(image.Rect(10, 10, 20, 20))

	tensor, err := Preprocess(sub, 5, 5, LayoutNHWC)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range tensor.Data {
		if v < 0.99 {
			t.Fatalf("value %d: got %v, want white", i, v)
		}
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name string
		src  image.Image
		w, h int
	}{
		{"nil frame", nil, 224, 224},
		{"empty frame", image.NewNRGBA(image.Rect(0, 0, 0, 0)), 224, 224},
		{"zero width", solid(4, 4, color.NRGBA{}), 0, 224},
		{"negative height", solid(4, 4, color.NRGBA{}), 224, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Preprocess(tc.src, tc.w, tc.h, LayoutNHWC)
			var perr *PreprocessError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v, want *PreprocessError", err)
			}
		})
	}
}
