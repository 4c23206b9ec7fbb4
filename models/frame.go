package models

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Frame is one captured camera image. Pixels are immutable once captured
// and are dropped when the last holder calls Release.
type Frame struct {
	ID         string
	CapturedAt time.Time
	Pose       Pose

	mu   sync.RWMutex
	img  image.Image
	refs atomic.Int32
}

// NewFrame wraps img in a frame holding one reference.
func NewFrame(img image.Image, pose Pose) *Frame {
	f := &Frame{
		ID:         uuid.NewString(),
		CapturedAt: time.Now(),
		Pose:       pose,
		img:        img,
	}
	f.refs.Store(1)
	return f
}

// Image returns the pixels, or nil once the frame has been released.
func (f *Frame) Image() image.Image {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.img
}

// Bounds returns the frame size, empty after release.
func (f *Frame) Bounds() image.Rectangle {
	img := f.Image()
	if img == nil {
		return image.Rectangle{}
	}
	return img.Bounds()
}

// Retain adds a holder. Each Retain must be paired with a Release.
func (f *Frame) Retain() *Frame {
	f.refs.Add(1)
	return f
}

// Release drops one holder; the pixels are freed when none remain.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if f.refs.Add(-1) > 0 {
		return
	}
	f.mu.Lock()
	f.img = nil
	f.mu.Unlock()
}

// Released reports whether the pixels have been freed.
func (f *Frame) Released() bool {
	return f.Image() == nil
}
