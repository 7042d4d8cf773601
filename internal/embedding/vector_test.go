package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	out, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, out[0], 1e-6)
	assert.InDelta(t, 0.8, out[1], 1e-6)

	_, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = Normalize([]float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float32{2, 0}
	_, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0}, in)
}

func TestL2Distance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal unit", []float32{1, 0}, []float32{0, 1}, math.Sqrt2},
		{"opposite unit", []float32{1, 0}, []float32{-1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, L2Distance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestPrepare(t *testing.T) {
	_, err := Prepare([]float32{1, 2, 3}, 4)
	var de *DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 3, de.Got)
	assert.Equal(t, 4, de.Want)

	out, err := Prepare([]float32{0, 5}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, out)
}
