package detections

import (
	"image"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// Preprocessor turns camera frames into normalized RGB tensors of a fixed size.
type Preprocessor struct {
	width, height int
	layout        Layout
	numWorkers    int
}

func NewPreprocessor(width, height int, layout Layout) *Preprocessor {
	if layout == "" {
		layout = LayoutNHWC
	}
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers > height && height > 0 {
		workers = height
	}
	if workers < 1 {
		workers = 1
	}
	return &Preprocessor{
		width:      width,
		height:     height,
		layout:     layout,
		numWorkers: workers,
	}
}

// Size returns the target width and height.
func (p *Preprocessor) Size() (int, int) {
	return p.width, p.height
}

func (p *Preprocessor) Layout() Layout {
	return p.layout
}

// Preprocess resizes frame to width x height with bilinear filtering and
// returns a freshly allocated tensor with channel values in [0,1].
func Preprocess(frame image.Image, width, height int, layout Layout) (InputTensor, error) {
	return NewPreprocessor(width, height, layout).Process(frame)
}

// Process converts one frame. The frame is never modified.
func (p *Preprocessor) Process(frame image.Image) (InputTensor, error) {
	if frame == nil {
		return InputTensor{}, &PreprocessError{Message: "nil frame"}
	}
	b := frame.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return InputTensor{}, &PreprocessError{Message: "empty frame bounds"}
	}
	if p.width <= 0 || p.height <= 0 || p.width > MaxInputSide || p.height > MaxInputSide {
		return InputTensor{}, &PreprocessError{Message: "invalid target size"}
	}

	// imaging.Resize always returns a new image anchored at (0,0).
	resized := imaging.Resize(frame, p.width, p.height, imaging.Linear)

	data := make([]float32, p.width*p.height*Channels)
	p.fill(resized, data)

	return InputTensor{
		Data:   data,
		Shape:  p.layout.Shape(p.width, p.height),
		Layout: p.layout,
	}, nil
}

// fill packs pixel rows into buffer using a bounded set of workers, each
// owning a contiguous band of rows.
func (p *Preprocessor) fill(img *image.NRGBA, buffer []float32) {
	rowsPerWorker := (p.height + p.numWorkers - 1) / p.numWorkers

	var wg sync.WaitGroup
	for start := 0; start < p.height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > p.height {
			end = p.height
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			if p.layout == LayoutNCHW {
				p.packPlanar(img, buffer, start, end)
			} else {
				p.packInterleaved(img, buffer, start, end)
			}
		}(start, end)
	}
	wg.Wait()
}

func (p *Preprocessor) packInterleaved(img *image.NRGBA, buffer []float32, start, end int) {
	for y := start; y < end; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
		dst := buffer[y*p.width*Channels : (y+1)*p.width*Channels]
		for x := 0; x < p.width; x++ {
			dst[x*3] = float32(src[x*4]) / 255.0
			dst[x*3+1] = float32(src[x*4+1]) / 255.0
			dst[x*3+2] = float32(src[x*4+2]) / 255.0
		}
	}
}

func (p *Preprocessor) packPlanar(img *image.NRGBA, buffer []float32, start, end int) {
	channelSize := p.width * p.height
	for y := start; y < end; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+p.width*4]
		offset := y * p.width
		for x := 0; x < p.width; x++ {
			i := offset + x
			buffer[i] = float32(src[x*4]) / 255.0
			buffer[channelSize+i] = float32(src[x*4+1]) / 255.0
			buffer[channelSize*2+i] = float32(src[x*4+2]) / 255.0
		}
	}
}
