// Package matching decides whether a query embedding belongs to a known person.
package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/visage/internal/embedding"
	"github.com/your-org/visage/internal/identity"
	"github.com/your-org/visage/internal/models"
)

const DefaultThreshold = 0.4

type Outcome string

const (
	OutcomeRecognized   Outcome = "recognized"
	OutcomeNoMatch      Outcome = "no_match"
	OutcomeEmptyGallery Outcome = "empty_gallery"
)

// ErrEmptyGallery means the user has no linked encodings to compare against.
var ErrEmptyGallery = errors.New("empty gallery")

// NoMatchError carries the best distance found when it did not clear the threshold.
type NoMatchError struct {
	Distance  float64
	Threshold float64
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no match: best distance %.4f >= threshold %.4f", e.Distance, e.Threshold)
}

// Gallery is the part of the store the engine reads. identity.Reader satisfies it.
type Gallery interface {
	NearestPersons(ctx context.Context, userID string, query []float32, model string, limit int) ([]models.PersonDistance, error)
}

// Query is one matching request.
type Query struct {
	UserID    string
	Embedding []float32
	// Threshold overrides the engine default when > 0.
	Threshold float64
}

// Result is the typed outcome of Match. Distance is nil only for an empty gallery.
type Result struct {
	Outcome   Outcome
	PersonID  uuid.UUID
	Distance  *float64
	Threshold float64
}

func (r *Result) Recognized() bool {
	return r.Outcome == OutcomeRecognized
}

// Err converts a non-recognized outcome to its error form.
func (r *Result) Err() error {
	switch r.Outcome {
	case OutcomeEmptyGallery:
		return ErrEmptyGallery
	case OutcomeNoMatch:
		return &NoMatchError{Distance: *r.Distance, Threshold: r.Threshold}
	}
	return nil
}

type Engine struct {
	gallery   Gallery
	threshold float64
	model     string
	dim       int
}

// NewEngine returns an engine comparing vectors of the given model and dimension.
// threshold <= 0 selects DefaultThreshold.
func NewEngine(gallery Gallery, model string, dim int, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{gallery: gallery, threshold: threshold, model: model, dim: dim}
}

func (e *Engine) Threshold() float64 { return e.threshold }
func (e *Engine) Model() string      { return e.model }
func (e *Engine) Dim() int           { return e.dim }

// Match finds the person whose closest linked encoding is nearest to q.Embedding.
// It never writes.
func (e *Engine) Match(ctx context.Context, q Query) (*Result, error) {
	vec, err := embedding.Prepare(q.Embedding, e.dim)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	threshold := e.threshold
	if q.Threshold > 0 {
		threshold = q.Threshold
	}

	nearest, err := e.gallery.NearestPersons(ctx, q.UserID, vec, e.model, 1)
	if err != nil {
		return nil, identity.Wrap("nearest persons", err)
	}
	if len(nearest) == 0 {
		return &Result{Outcome: OutcomeEmptyGallery, Threshold: threshold}, nil
	}

	best := nearest[0]
	d := best.Distance
	if d >= threshold {
		return &Result{Outcome: OutcomeNoMatch, Distance: &d, Threshold: threshold}, nil
	}
	return &Result{Outcome: OutcomeRecognized, PersonID: best.PersonID, Distance: &d, Threshold: threshold}, nil
}
