// Package gate decides which raw detections are trustworthy enough to embed.
package gate

import (
	"errors"
	"fmt"

	"github.com/your-org/visage/internal/models"
)

// Config holds the quality thresholds. Zero fields fall back to DefaultConfig
// values, except MinConfidence and FullFrameMargin where zero is a usable
// setting; only negative values of those two take the default.
type Config struct {
	MinConfidence     float32
	MinFaceSize       int     // minimum box width and height, px
	FullFrameMargin   int     // box origin within this many px of (0,0) counts as frame-anchored
	FullFrameCoverage float64 // fraction of frame area above which an anchored box is a false positive
	UpscaleMinDim     int
	CropQuality       int
}

func DefaultConfig() Config {
	return Config{
		MinConfidence:     0.75,
		MinFaceSize:       30,
		FullFrameMargin:   5,
		FullFrameCoverage: 0.98,
		UpscaleMinDim:     640,
		CropQuality:       90,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinConfidence < 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.MinFaceSize <= 0 {
		c.MinFaceSize = d.MinFaceSize
	}
	if c.FullFrameMargin < 0 {
		c.FullFrameMargin = d.FullFrameMargin
	}
	if c.FullFrameCoverage <= 0 {
		c.FullFrameCoverage = d.FullFrameCoverage
	}
	if c.UpscaleMinDim <= 0 {
		c.UpscaleMinDim = d.UpscaleMinDim
	}
	if c.CropQuality <= 0 {
		c.CropQuality = d.CropQuality
	}
	return c
}

type Reason string

const (
	ReasonNoFace        Reason = "no_face_detected"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonFullFrame     Reason = "full_frame"
	ReasonTooSmall      Reason = "too_small"
	ReasonTimeout       Reason = "timeout"
)

// ErrNoUsableFace matches every *RejectionError.
var ErrNoUsableFace = errors.New("no usable face")

// RejectionError reports why an image yielded no usable face.
type RejectionError struct {
	Reason   Reason
	Detected int // raw detections before filtering
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("no usable face: %s (%d detected)", e.Reason, e.Detected)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrNoUsableFace
}

// ReasonOf returns the rejection reason carried by err, or "" if there is none.
func ReasonOf(err error) Reason {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// Gate applies the confidence and geometry policy.
type Gate struct {
	cfg Config
}

func New(cfg Config) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

func (g *Gate) Config() Config {
	return g.cfg
}

// EvaluateAll returns every detection that passes confidence and geometry
// checks, in input order. frameW and frameH are the analysis frame size.
func (g *Gate) EvaluateAll(raw []models.RawDetection, frameW, frameH int) ([]models.RawDetection, error) {
	if len(raw) == 0 {
		return nil, &RejectionError{Reason: ReasonNoFace}
	}

	stages := []struct {
		reason Reason
		keep   func(models.RawDetection) bool
	}{
		{ReasonLowConfidence, func(d models.RawDetection) bool { return d.Confidence >= g.cfg.MinConfidence }},
		{ReasonFullFrame, func(d models.RawDetection) bool { return !g.isFullFrame(d.Box, frameW, frameH) }},
		{ReasonTooSmall, func(d models.RawDetection) bool {
			return d.Box.W >= g.cfg.MinFaceSize && d.Box.H >= g.cfg.MinFaceSize
		}},
	}

	survivors := raw
	for _, st := range stages {
		var next []models.RawDetection
		for _, d := range survivors {
			if st.keep(d) {
				next = append(next, d)
			}
		}
		if len(next) == 0 {
			return nil, &RejectionError{Reason: st.reason, Detected: len(raw)}
		}
		survivors = next
	}
	return survivors, nil
}

// Evaluate is the single-subject policy: the largest surviving box wins.
// Equal areas keep the earlier detection.
func (g *Gate) Evaluate(raw []models.RawDetection, frameW, frameH int) (models.RawDetection, error) {
	survivors, err := g.EvaluateAll(raw, frameW, frameH)
	if err != nil {
		return models.RawDetection{}, err
	}
	best := survivors[0]
	for _, d := range survivors[1:] {
		if d.Box.Area() > best.Box.Area() {
			best = d
		}
	}
	return best, nil
}

func (g *Gate) isFullFrame(b models.Box, frameW, frameH int) bool {
	if frameW <= 0 || frameH <= 0 {
		return false
	}
	if b.X > g.cfg.FullFrameMargin || b.Y > g.cfg.FullFrameMargin {
		return false
	}
	coverage := float64(b.Area()) / float64(frameW*frameH)
	return coverage > g.cfg.FullFrameCoverage
}
