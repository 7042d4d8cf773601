package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/visage/internal/models"
)

// ErrInvalidImage is returned when the bytes cannot be decoded as an image.
var ErrInvalidImage = errors.New("invalid image")

// Source is the embedding model: it finds faces in an analysis frame and
// returns a box, confidence and vector for each.
type Source interface {
	Detect(ctx context.Context, img image.Image) ([]models.RawDetection, error)
}

// Frame is a decoded capture, upscaled for analysis.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
	Format string
	Scale  float64 // analysis px per original px
}

// Face is an accepted detection with its JPEG crop taken from the analysis frame.
type Face struct {
	models.RawDetection
	Crop []byte
}

// Prepare decodes data and upscales it so the shorter side is at least
// UpscaleMinDim, preserving aspect ratio.
func (g *Gate) Prepare(data []byte) (*Frame, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty bounds", ErrInvalidImage)
	}

	nw, nh, scale := UpscaledSize(w, h, g.cfg.UpscaleMinDim)
	if scale == 1 {
		return &Frame{Image: img, Width: w, Height: h, Format: format, Scale: 1}, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return &Frame{Image: dst, Width: nw, Height: nh, Format: format, Scale: scale}, nil
}

// UpscaledSize returns the analysis size for a w×h image. The shorter side
// becomes minDim exactly and the longer side is rounded up.
func UpscaledSize(w, h, minDim int) (int, int, float64) {
	short, long := w, h
	if h < w {
		short, long = h, w
	}
	if short >= minDim || short == 0 {
		return w, h, 1
	}
	scaledLong := (long*minDim + short - 1) / short
	scale := float64(minDim) / float64(short)
	if w <= h {
		return minDim, scaledLong, scale
	}
	return scaledLong, minDim, scale
}

type detectResult struct {
	dets []models.RawDetection
	err  error
}

// Detect runs src on the frame, bounded by timeout. A deadline hit is reported
// as a timeout rejection; cancellation of ctx itself is returned as is.
func (g *Gate) Detect(ctx context.Context, src Source, f *Frame, timeout time.Duration) ([]models.RawDetection, error) {
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch := make(chan detectResult, 1)
	go func() {
		dets, err := src.Detect(dctx, f.Image)
		ch <- detectResult{dets, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &RejectionError{Reason: ReasonTimeout}
			}
			return nil, fmt.Errorf("detect: %w", r.err)
		}
		return r.dets, nil
	case <-dctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RejectionError{Reason: ReasonTimeout}
	}
}

// Single prepares data, runs src and applies the single-subject policy.
func (g *Gate) Single(ctx context.Context, src Source, data []byte, timeout time.Duration) (*Frame, Face, error) {
	f, err := g.Prepare(data)
	if err != nil {
		return nil, Face{}, err
	}
	dets, err := g.Detect(ctx, src, f, timeout)
	if err != nil {
		return f, Face{}, err
	}
	best, err := g.Evaluate(dets, f.Width, f.Height)
	if err != nil {
		return f, Face{}, err
	}
	face, err := g.crop(f, best)
	if err != nil {
		return f, Face{}, err
	}
	return f, face, nil
}

// Group prepares data, runs src and returns every surviving face.
func (g *Gate) Group(ctx context.Context, src Source, data []byte, timeout time.Duration) (*Frame, []Face, error) {
	f, err := g.Prepare(data)
	if err != nil {
		return nil, nil, err
	}
	dets, err := g.Detect(ctx, src, f, timeout)
	if err != nil {
		return f, nil, err
	}
	survivors, err := g.EvaluateAll(dets, f.Width, f.Height)
	if err != nil {
		return f, nil, err
	}
	faces := make([]Face, 0, len(survivors))
	for _, d := range survivors {
		face, err := g.crop(f, d)
		if err != nil {
			return f, nil, err
		}
		faces = append(faces, face)
	}
	return f, faces, nil
}

func (g *Gate) crop(f *Frame, d models.RawDetection) (Face, error) {
	data, err := CropJPEG(f.Image, d.Box, g.cfg.CropQuality)
	if err != nil {
		return Face{}, err
	}
	return Face{RawDetection: d, Crop: data}, nil
}

// CropJPEG cuts box out of img (clamped to its bounds) and encodes it as JPEG.
func CropJPEG(img image.Image, box models.Box, quality int) ([]byte, error) {
	b := img.Bounds()
	r := image.Rect(b.Min.X+box.X, b.Min.Y+box.Y, b.Min.X+box.X+box.W, b.Min.Y+box.Y+box.H).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("crop: box %+v outside frame", box)
	}
	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
