// Package camera provides frame sources for the detection scheduler.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Tutortoise/trash-spawn-service/models"
	"github.com/disintegration/imaging"
)

// ErrNoFrame means no frame is available right now. It is expected and
// transient.
var ErrNoFrame = errors.New("camera: no frame available")

// Source hands out the latest camera frame. The caller owns the returned
// frame and must Release it.
type Source interface {
	Capture(ctx context.Context) (*models.Frame, error)
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// DirectorySource replays the images of a directory in name order, looping.
// The directory is rescanned when the end is reached so new files are picked up.
type DirectorySource struct {
	dir  string
	pose models.Pose

	mu    sync.Mutex
	files []string
	next  int
}

func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{dir: dir, pose: models.IdentityPose}
}

// SetPose changes the pose attached to subsequent frames.
func (s *DirectorySource) SetPose(p models.Pose) {
	s.mu.Lock()
	s.pose = p
	s.mu.Unlock()
}

func (s *DirectorySource) Capture(ctx context.Context) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.next >= len(s.files) {
		files, err := s.scan()
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.files, s.next = files, 0
	}
	if len(s.files) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFrame
	}
	path := s.files[s.next]
	s.next++
	pose := s.pose
	s.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("camera: open %s: %w", filepath.Base(path), err)
	}
	return models.NewFrame(img, pose), nil
}

func (s *DirectorySource) scan() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("camera: read %s: %w", s.dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// SyntheticSource generates frames without a camera: noise when Noise is
// set, otherwise a solid Fill colour.
type SyntheticSource struct {
	Width, Height int
	Fill          color.NRGBA
	Noise         bool
	Pose          models.Pose

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSyntheticSource(width, height int, noise bool, seed int64) *SyntheticSource {
	return &SyntheticSource{
		Width:  width,
		Height: height,
		Fill:   color.NRGBA{R: 128, G: 128, B: 128, A: 255},
		Noise:  noise,
		Pose:   models.IdentityPose,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (s *SyntheticSource) Capture(ctx context.Context) (*models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Width <= 0 || s.Height <= 0 {
		return nil, ErrNoFrame
	}

	img := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	if s.Noise {
		s.mu.Lock()
		if s.rng == nil {
			s.rng = rand.New(rand.NewSource(1))
		}
		s.rng.Read(img.Pix)
		s.mu.Unlock()
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 255
		}
	} else {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = s.Fill.R, s.Fill.G, s.Fill.B, 255
		}
	}
	return models.NewFrame(img, s.Pose), nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*models.Frame, error)

func (f SourceFunc) Capture(ctx context.Context) (*models.Frame, error) {
	return f(ctx)
}
