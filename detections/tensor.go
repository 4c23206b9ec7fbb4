package detections

import (
	"fmt"
	"strings"
)

// Layout is the memory order of an input tensor.
type Layout string

const (
	// LayoutNHWC packs channels interleaved: [1, H, W, 3].
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW packs channel planes: [1, 3, H, W].
	LayoutNCHW Layout = "nchw"
)

// ParseLayout accepts "nhwc" or "nchw" in any case.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(s)) {
	case LayoutNHWC, "":
		return LayoutNHWC, nil
	case LayoutNCHW:
		return LayoutNCHW, nil
	}
	return "", fmt.Errorf("detections: unknown tensor layout %q", s)
}

// Shape returns the 4-d tensor shape for a width x height RGB input.
func (l Layout) Shape(width, height int) []int64 {
	if l == LayoutNCHW {
		return []int64{1, Channels, int64(height), int64(width)}
	}
	return []int64{1, int64(height), int64(width), Channels}
}

// InputTensor is a normalized RGB buffer owned by one inference call.
type InputTensor struct {
	Data   []float32
	Shape  []int64
	Layout Layout
}

// Len returns the number of elements the shape describes.
func (t InputTensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// RawOutput is the flat score buffer of one forward pass.
type RawOutput []float32

// shapeMatches compares a tensor shape to a declared model shape where
// non-positive declared dimensions are dynamic.
func shapeMatches(got, declared []int64) bool {
	if len(declared) == 0 {
		return true
	}
	if len(got) != len(declared) {
		return false
	}
	for i, d := range declared {
		if d > 0 && got[i] != d {
			return false
		}
	}
	return true
}
