package calibrate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/visage/internal/embedding"
	"github.com/your-org/visage/internal/models"
)

func TestThresholds(t *testing.T) {
	assert.Equal(t, []float64{0.2, 0.3, 0.4, 0.5}, Thresholds(0.2, 0.5, 0.1))
	assert.Equal(t, []float64{1}, Thresholds(1, 1, 0.1))
	assert.Nil(t, Thresholds(1, 0, 0.1))
	assert.Nil(t, Thresholds(0, 1, 0))
}

func TestRun(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	samples := []Sample{
		{PersonID: alice, Vector: []float32{1, 0}},
		{PersonID: alice, Vector: []float32{0.8, 0.6}}, // genuine distance ~0.632
		{PersonID: bob, Vector: []float32{0, 1}},
	}

	r, err := Run(samples, []float64{0.5, 0.7, 1.5})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Persons)
	assert.Equal(t, 3, r.Samples)
	assert.Equal(t, 1, r.Genuine.Pairs)
	assert.Equal(t, 2, r.Impostor.Pairs)
	assert.InDelta(t, 0.6325, r.Genuine.Mean, 1e-3)
	assert.Zero(t, r.Genuine.StdDev)

	require.Len(t, r.Points, 3)
	// 0.5: the genuine pair is rejected, no impostor accepted
	assert.Equal(t, Point{Threshold: 0.5, FAR: 0, FRR: 1}, r.Points[0])
	// 0.7: everything correct
	assert.Equal(t, Point{Threshold: 0.7, FAR: 0, FRR: 0}, r.Points[1])
	// 1.5: impostors at ~0.894 and ~1.414 are both accepted
	assert.Equal(t, Point{Threshold: 1.5, FAR: 1, FRR: 0}, r.Points[2])

	assert.Equal(t, 0.7, r.EERThreshold)
	assert.Zero(t, r.EER)
}

func TestRunInsufficientData(t *testing.T) {
	p := uuid.New()
	_, err := Run([]Sample{{PersonID: p, Vector: []float32{1, 0}}, {PersonID: uuid.New(), Vector: []float32{0, 1}}}, []float64{0.4})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Run([]Sample{{PersonID: p, Vector: []float32{1, 0}}, {PersonID: p, Vector: []float32{0, 1}}}, []float64{0.4})
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Run(nil, nil)
	assert.Error(t, err)
}

func TestRunDimensionMismatch(t *testing.T) {
	_, err := Run([]Sample{
		{PersonID: uuid.New(), Vector: []float32{1, 0}},
		{PersonID: uuid.New(), Vector: []float32{1, 0, 0}},
	}, []float64{0.4})
	var de *embedding.DimensionError
	assert.ErrorAs(t, err, &de)
}

func TestSamplesFrom(t *testing.T) {
	pid := uuid.New()
	got := SamplesFrom([]models.Encoding{
		{Vector: []float32{1, 0}, PersonID: &pid, Status: models.EncodingLinked},
		{Vector: []float32{0, 1}, Status: models.EncodingPending},
	})
	require.Len(t, got, 1)
	assert.Equal(t, pid, got[0].PersonID)
}
