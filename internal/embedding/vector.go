// Package embedding holds vector helpers shared by the engine and the stores.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrEmptyVector = errors.New("embedding: empty vector")
	ErrZeroVector  = errors.New("embedding: zero-norm vector")
)

// DimensionError is returned when a vector does not have the model's length.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding: dimension %d, want %d", e.Got, e.Want)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyVector
	}
	f := toFloat64(v)
	n := floats.Norm(f, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	floats.Scale(1/n, f)
	out := make([]float32, len(f))
	for i, x := range f {
		out[i] = float32(x)
	}
	return out, nil
}

// Validate checks length against dim (0 skips the check) and rejects zero vectors.
func Validate(v []float32, dim int) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if dim > 0 && len(v) != dim {
		return &DimensionError{Got: len(v), Want: dim}
	}
	return nil
}

// L2Distance is the Euclidean distance between a and b. Both must have the same length.
func L2Distance(a, b []float32) float64 {
	return floats.Distance(toFloat64(a), toFloat64(b), 2)
}

// Prepare validates v and returns its normalized form.
func Prepare(v []float32, dim int) ([]float32, error) {
	if err := Validate(v, dim); err != nil {
		return nil, err
	}
	return Normalize(v)
}
