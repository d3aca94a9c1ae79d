// Package frames supplies webcam frames for face detection and normalises
// them to the size and encoding the detector expects.
package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

var ErrNoFrame = errors.New("frames: no frame available")

// Source returns one encoded frame per call.
type Source interface {
	Frame(ctx context.Context) ([]byte, error)
}

// FileSource re-reads an image file on every call, so an external capture
// process can keep overwriting it.
type FileSource struct {
	Path string
}

func (s FileSource) Frame(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("frames: read %s: %w", s.Path, err)
	}
	if len(data) == 0 {
		return nil, ErrNoFrame
	}
	return data, nil
}

// NewSource picks the configured frame source. camera serves the
// "eyetracking" source, normally the eye-tracking backend's /frame endpoint.
func NewSource(cfg config.FaceDetectionConfig, camera Source) (Source, error) {
	switch cfg.FrameSource {
	case "eyetracking":
		if camera == nil {
			return nil, errors.New("frames: eyetracking source needs a camera")
		}
		return camera, nil
	case "file":
		if cfg.FramePath == "" {
			return nil, errors.New("frames: file source needs frame_path")
		}
		return FileSource{Path: cfg.FramePath}, nil
	default:
		return nil, fmt.Errorf("frames: unknown frame source %q", cfg.FrameSource)
	}
}

// Normalizer downsizes frames to fit a bounding box and re-encodes them as
// JPEG.
type Normalizer struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func NewNormalizer(cfg config.FaceDetectionConfig) Normalizer {
	return Normalizer{
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
		Quality:   cfg.JPEGQuality,
	}
}

// Normalize decodes a JPEG or PNG frame, scales it down to fit within
// MaxWidth x MaxHeight keeping its aspect ratio, and encodes it as JPEG.
// Frames already inside the box are only re-encoded.
func (n Normalizer) Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrNoFrame
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("frames: decode: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), n.MaxWidth, n.MaxHeight)

	img := src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	quality := n.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("frames: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h down to fit maxW x maxH. Non-positive bounds disable that
// dimension's limit; images are never scaled up.
func fit(w, h, maxW, maxH int) (int, int) {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return w, h
	}

	nw := max(1, int(float64(w)*scale+0.5))
	nh := max(1, int(float64(h)*scale+0.5))
	return nw, nh
}
